// Package wire defines the request/reply structs that cross the access
// node's RPC boundary: the client-facing AccessService surface, the
// sibling-node SendToAccess surface, and the downstream logic/dbproxy
// surfaces. They travel over gRPC using the JSON codec registered in
// internal/rpc/codec, since no protoc pipeline produced generated
// protobuf stubs for this build (see DESIGN.md).
package wire

// MsgKind mirrors the original tinyim MsgType enum.
type MsgKind int32

const (
	MsgSingle MsgKind = iota + 1
	MsgGroup
)

// Msg is the wire form of a delivered message, single or group.
type Msg struct {
	UserID    int64   `json:"user_id"` // sender
	PeerID    int64   `json:"peer_id"` // recipient user or group id
	MsgKind   MsgKind `json:"msg_type"`
	Message   string  `json:"message"`
	ClientTS  int64   `json:"client_time"`
	ServerTS  int64   `json:"timestamp"`
	MsgID     int64   `json:"msg_id"`
}

// Ping carries just a user id; used by PullData and HeartBeat requests.
type Ping struct {
	UserID int64 `json:"user_id"`
}

// Pong is the generic small reply carrying the caller's delivery watermark.
type Pong struct {
	LastMsgID int64 `json:"last_msg_id"`
}

// SigninData is the SignIn request payload.
type SigninData struct {
	UserID     int64  `json:"user_id"`
	Password   string `json:"password"`
	ClientTS   int64  `json:"client_timestamp"`
	AccessAddr string `json:"access_addr"` // filled in by this node before forwarding to dbproxy
}

// UserIDMsg wraps a bare user identifier (SignOut, GetFriends, GetGroups requests).
type UserIDMsg struct {
	UserID int64 `json:"user_id"`
}

// GroupIDMsg wraps a bare group identifier (GetGroupMembers request).
type GroupIDMsg struct {
	GroupID int64 `json:"group_id"`
}

// NewMsg is the SendMsg request payload.
type NewMsg struct {
	UserID   int64   `json:"user_id"`
	PeerID   int64   `json:"peer_id"`
	MsgKind  MsgKind `json:"msg_type"`
	Message  string  `json:"message"`
	ClientTS int64   `json:"client_time"`
}

// MsgReply is the SendMsg response.
type MsgReply struct {
	MsgID     int64 `json:"msg_id"`
	LastMsgID int64 `json:"last_msg_id"`
	ServerTS  int64 `json:"server_ts"`
}

// MsgIDRange is the GetMsgs request, a half-open [From, To) range of msg ids.
type MsgIDRange struct {
	UserID int64 `json:"user_id"`
	From   int64 `json:"from"`
	To     int64 `json:"to"`
}

// Msgs is the PullData / GetMsgs reply: zero or more messages.
type Msgs struct {
	Msg []*Msg `json:"msg"`
}

// UserInfo is one entry of a GetFriends / GetGroupMembers reply.
type UserInfo struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// UserInfos is the GetFriends / GetGroupMembers reply.
type UserInfos struct {
	UserInfo []*UserInfo `json:"user_info"`
}

// GroupInfo is one entry of a GetGroups reply.
type GroupInfo struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
}

// GroupInfos is the GetGroups reply.
type GroupInfos struct {
	GroupInfo []*GroupInfo `json:"group_info"`
}

// Empty is the common "no payload" reply (SignOut, SendToAccess).
type Empty struct{}
