// Command accessctl is a terminal dashboard (C14) that polls an access
// node's admin HTTP surface (/stats) and renders shard occupancy live, so
// an operator can watch session distribution and parked-poll counts
// without reaching for curl + jq.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

type shardStats struct {
	ShardID     int `json:"ShardID"`
	UserCount   int `json:"UserCount"`
	ParkedCount int `json:"ParkedCount"`
}

type statsResponse struct {
	ShardCount int          `json:"shard_count"`
	Shards     []shardStats `json:"shards"`
}

func fetchStats(addr string) (*statsResponse, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/stats", addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func main() {
	addr := flag.String("admin-addr", "localhost:7080", "access node admin HTTP address")
	interval := flag.Duration("interval", time.Second, "poll interval")
	flag.Parse()

	if err := ui.Init(); err != nil {
		log.Fatalf("accessctl: failed to init termui: %v", err)
	}
	defer ui.Close()

	title := widgets.NewParagraph()
	title.Title = "tinyim access node"
	title.Text = fmt.Sprintf("polling %s every %s — q to quit", *addr, *interval)
	title.SetRect(0, 0, 80, 3)

	usersGauge := widgets.NewBarChart()
	usersGauge.Title = "sessions per shard"
	usersGauge.SetRect(0, 3, 80, 20)
	usersGauge.BarWidth = 3
	usersGauge.BarGap = 1

	parkedGauge := widgets.NewBarChart()
	parkedGauge.Title = "parked polls per shard"
	parkedGauge.SetRect(0, 20, 80, 37)
	parkedGauge.BarWidth = 3
	parkedGauge.BarGap = 1

	render := func() {
		stats, err := fetchStats(*addr)
		if err != nil {
			title.Text = fmt.Sprintf("polling %s — error: %v", *addr, err)
			ui.Render(title)
			return
		}

		labels := make([]string, len(stats.Shards))
		users := make([]float64, len(stats.Shards))
		parked := make([]float64, len(stats.Shards))
		for i, sh := range stats.Shards {
			labels[i] = fmt.Sprintf("%d", sh.ShardID)
			users[i] = float64(sh.UserCount)
			parked[i] = float64(sh.ParkedCount)
		}
		usersGauge.Labels = labels
		usersGauge.Data = users
		parkedGauge.Labels = labels
		parkedGauge.Data = parked

		title.Text = fmt.Sprintf("polling %s every %s — %d shards — q to quit", *addr, *interval, stats.ShardCount)
		ui.Render(title, usersGauge, parkedGauge)
	}

	render()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	uiEvents := ui.PollEvents()

	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return
			}
		case <-ticker.C:
			render()
		}
	}
}
