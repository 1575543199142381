// Command client connects one or more headless players to a server, wanders
// them around, and prints what they see. Useful for soak and load testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"blockfall/server/internal/config"
	"blockfall/server/internal/gameclient"
	"blockfall/server/internal/movement"
	"blockfall/server/internal/telemetry"
)

func main() {
	name := flag.String("name", "bot", "player name, suffixed with an index when count > 1")
	addr := flag.String("addr", "127.0.0.1", "server address")
	port := flag.Int("port", 25565, "server port")
	count := flag.Int("count", 1, "number of concurrent bots")
	quiet := flag.Bool("quiet", false, "suppress chat output")
	flag.Parse()

	cfg := config.Default()
	cfg.Network.Mode = "client"
	cfg.Network.ServerAddress = *addr
	cfg.Network.ServerPort = *port

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		botName := *name
		if *count > 1 {
			botName = fmt.Sprintf("%s-%d", *name, i+1)
		}
		wg.Add(1)
		go func(botName string) {
			defer wg.Done()
			runBot(cfg, botName, *quiet, stop)
		}(botName)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	close(stop)
	wg.Wait()
}

func runBot(cfg config.Config, name string, quiet bool, stop <-chan struct{}) {
	logger := telemetry.WrapLogger(log.New(os.Stdout, "["+name+"] ", log.LstdFlags))

	done := make(chan struct{}, 1)
	c := gameclient.New(cfg, gameclient.Callbacks{
		OnJoined: func(id uint32) {
			logger.Printf("joined as player %d", id)
		},
		OnChat: func(from, msg string) {
			if !quiet {
				logger.Printf("<%s> %s", from, msg)
			}
		},
		OnDisconnected: func(reason string) {
			logger.Printf("disconnected: %s", reason)
			select {
			case done <- struct{}{}:
			default:
			}
		},
		OnConnectFail: func(reason string) {
			logger.Printf("connect failed: %s", reason)
			select {
			case done <- struct{}{}:
			default:
			}
		},
	}, logger)

	if !c.Connect(name) {
		logger.Printf("connect refused")
		return
	}
	defer c.Disconnect()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	heading := rand.Float64() * 2 * math.Pi
	lastReport := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case now := <-ticker.C:
			if !c.Connected() {
				continue
			}
			// Drift the heading so bots wander instead of walking straight
			// off the world edge.
			heading += (rand.Float64() - 0.5) * 0.4
			c.SendInput(movement.Input{
				MoveX:   float32(math.Cos(heading)),
				MoveZ:   float32(math.Sin(heading)),
				Yaw:     float32(heading * 180 / math.Pi),
				DeltaMS: 100,
			})
			if now.Sub(lastReport) >= 10*time.Second {
				pos := c.PredictedState().Pos
				logger.Printf("at (%.1f, %.1f, %.1f), %d players visible, snapshot %d, rtt %s",
					pos.X, pos.Y, pos.Z, len(c.RemotePlayers())+1, c.LastSnapshot(), c.Ping())
				lastReport = now
			}
		}
	}
}
