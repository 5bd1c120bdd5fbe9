// cli is an operator REPL for a running judged instance: submit code, poll
// or watch submission status and inspect contest leaderboards.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8080", "judged base URL")
	token := flag.String("token", "", "admin bearer token")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	flag.Parse()

	client := newClient(*baseURL, *token, *timeout)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rankoj> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return
	}
	defer rl.Close()

	session := &session{client: client, rl: rl}
	session.run()
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.rankoj_history"
}

type session struct {
	client *client
	rl     *readline.Instance
}

func (s *session) run() {
	for {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Printf("read input failed: %v\n", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Printf("parse failed: %v\n", err)
			continue
		}

		switch args[0] {
		case "exit", "quit":
			fmt.Println("bye")
			return
		case "help":
			s.printHelp()
		case "set":
			s.handleSet(args[1:])
		case "submit":
			s.handleSubmit(args[1:])
		case "status":
			s.handleStatus(args[1:])
		case "watch":
			s.handleWatch(args[1:])
		case "leaderboard":
			s.handleLeaderboard(args[1:])
		default:
			fmt.Printf("unknown command %q, try help\n", args[0])
		}
	}
}

func (s *session) printHelp() {
	fmt.Print(`commands:
  submit <user> <problem> <language> <source-file> [contest]
  status <submission-id>
  watch <submission-id>
  leaderboard <contest-id>
  set base <url> | set token <token>
  help | exit
`)
}

func (s *session) handleSet(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set base <url> | set token <token>")
		return
	}
	switch args[0] {
	case "base":
		s.client.baseURL = strings.TrimRight(args[1], "/")
		fmt.Printf("base set to %s\n", s.client.baseURL)
	case "token":
		s.client.token = args[1]
		fmt.Println("token set")
	default:
		fmt.Println("usage: set base <url> | set token <token>")
	}
}

func (s *session) handleSubmit(args []string) {
	if len(args) < 4 {
		fmt.Println("usage: submit <user> <problem> <language> <source-file> [contest]")
		return
	}
	source, err := os.ReadFile(args[3])
	if err != nil {
		fmt.Printf("read source failed: %v\n", err)
		return
	}
	contestID := ""
	if len(args) > 4 {
		contestID = args[4]
	}
	id, err := s.client.submit(args[0], args[1], args[2], string(source), contestID)
	if err != nil {
		fmt.Printf("submit failed: %v\n", err)
		return
	}
	fmt.Printf("submission %s queued\n", id)
}

func (s *session) handleStatus(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: status <submission-id>")
		return
	}
	st, err := s.client.status(args[0])
	if err != nil {
		fmt.Printf("status failed: %v\n", err)
		return
	}
	printStatus(st)
}

// handleWatch polls until the submission reaches a terminal state.
func (s *session) handleWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: watch <submission-id>")
		return
	}
	for {
		st, err := s.client.status(args[0])
		if err != nil {
			fmt.Printf("status failed: %v\n", err)
			return
		}
		printStatus(st)
		if st.Status == "Completed" || st.Status == "SystemError" {
			return
		}
		time.Sleep(time.Second)
	}
}

func (s *session) handleLeaderboard(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: leaderboard <contest-id>")
		return
	}
	lb, err := s.client.leaderboard(args[0])
	if err != nil {
		fmt.Printf("leaderboard failed: %v\n", err)
		return
	}
	if lb.Frozen {
		fmt.Printf("contest %s (FROZEN at %s)\n", lb.ContestID, lb.GeneratedAt.Format(time.RFC3339))
	} else {
		fmt.Printf("contest %s\n", lb.ContestID)
	}
	fmt.Printf("%-5s %-20s %10s %10s\n", "rank", "user", "score", "penalty")
	for _, row := range lb.Rows {
		fmt.Printf("%-5d %-20s %10.1f %10d\n", row.Rank, row.UserID, row.Score, row.PenaltyMinutes)
	}
}

func printStatus(st *submissionStatus) {
	fmt.Printf("submission %s: %s", st.ID, st.Status)
	if st.FinalVerdict != "" {
		fmt.Printf(" (%s, score %.2f)", st.FinalVerdict, st.ScoreFraction)
	}
	fmt.Println()
	for _, r := range st.Results {
		fmt.Printf("  case %-12s %-20s %6dms %8dkb\n", r.TestCaseID, r.Verdict, r.RuntimeMs, r.MemoryKb)
	}
}
