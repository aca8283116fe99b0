package downstream

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinyim/access-node/config"
)

// Dial opens a ClientConn to target, shaped by connType the way the
// original cmd_client's connection_type flag shaped its own outbound
// connections: pooled balances across the resolved backend set with
// round_robin, single pins to whatever the resolver returns first, and
// short disables grpc-go's built-in retry. Every type yields one
// long-lived ClientConn; none of them dials per call.
func Dial(target string, connType config.ConnectionType) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	switch connType {
	case config.ConnectionPooled:
		opts = append(opts, grpc.WithDefaultServiceConfig(`{"loadBalancingConfig":[{"round_robin":{}}]}`))
	case config.ConnectionShort:
		opts = append(opts, grpc.WithDisableRetry())
	case config.ConnectionSingle, "":
		// default pick-first behavior, nothing extra to set.
	default:
		return nil, fmt.Errorf("downstream: unknown connection_type %q", connType)
	}

	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("downstream: dial %s: %w", target, err)
	}
	return cc, nil
}

// DialTimeout bounds how long startup waits for each downstream dial's
// first connectivity check; used by process wiring's concurrent
// dial-and-ping fan-out (see cmd/fx.go).
const DialTimeout = 5 * time.Second

// DialAndWait dials target, asks it to connect (grpc-go connects lazily),
// and blocks until the connection is Ready or Idle, or until ctx or
// DialTimeout expires. A target that is still unreachable when the wait
// ends is not reported as an error: the ClientConn is returned anyway and
// the first real RPC is what fails.
func DialAndWait(ctx context.Context, target string, connType config.ConnectionType) (*grpc.ClientConn, error) {
	cc, err := Dial(target, connType)
	if err != nil {
		return nil, err
	}
	cc.Connect()

	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	for {
		state := cc.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return cc, nil
		}
		if !cc.WaitForStateChange(ctx, state) {
			return cc, nil // timed out; hand back the conn, it may still recover lazily
		}
	}
}
