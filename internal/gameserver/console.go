package gameserver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"blockfall/server/internal/protocol"
)

// RunConsole reads admin commands line by line until EOF or the stop
// command. Output goes to w; the caller decides what reader and writer to
// attach (stdin/stdout in production, buffers in tests).
func (s *Server) RunConsole(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "stop":
			fmt.Fprintln(w, "stopping")
			s.Stop()
			return
		case "status":
			st := s.Status()
			fmt.Fprintf(w, "%s: %d players (peak %d), tick %d, snapshot %d, uptime %s, world time %d\n",
				st.Name, st.Players, st.PeakPlayers, st.Tick, st.Sequence, st.Uptime, st.WorldTime)
		case "kick":
			if len(fields) < 2 {
				fmt.Fprintln(w, "usage: kick <name>")
				continue
			}
			if s.kickByName(fields[1], "kicked by console") {
				fmt.Fprintf(w, "kicked %s\n", fields[1])
			} else {
				fmt.Fprintf(w, "no player named %s\n", fields[1])
			}
		case "ban":
			if len(fields) < 2 {
				fmt.Fprintln(w, "usage: ban <name> [reason]")
				continue
			}
			reason := "banned by console"
			if len(fields) > 2 {
				reason = strings.Join(fields[2:], " ")
			}
			if err := s.banByName(fields[1], reason); err != nil {
				fmt.Fprintf(w, "ban failed: %v\n", err)
			} else {
				fmt.Fprintf(w, "banned %s\n", fields[1])
			}
		case "say":
			if len(fields) < 2 {
				fmt.Fprintln(w, "usage: say <message>")
				continue
			}
			s.Say(strings.Join(fields[1:], " "))
		case "help":
			fmt.Fprintln(w, "commands: status, kick <name>, ban <name> [reason], say <message>, stop, help")
		default:
			fmt.Fprintf(w, "unknown command %q, try help\n", fields[0])
		}
	}
}

// Say broadcasts a chat line under the server's name.
func (s *Server) Say(message string) {
	if pkt, err := protocol.NewChatPacket(s.cfg.Server.Name, message); err == nil {
		s.mgr.BroadcastPacket(pkt)
	}
}

func (s *Server) kickByName(name, reason string) bool {
	for _, pc := range s.mgr.GetConnectedPlayers() {
		if pc.Name == name {
			return s.mgr.KickPlayer(pc.ID, reason)
		}
	}
	return false
}

func (s *Server) banByName(name, reason string) error {
	for _, pc := range s.mgr.GetConnectedPlayers() {
		if pc.Name == name {
			return s.mgr.BanPlayer(pc.ID, reason)
		}
	}
	return fmt.Errorf("no player named %s", name)
}
