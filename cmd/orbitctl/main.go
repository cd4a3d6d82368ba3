package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pcardosol/orbit/internal/api"
	"github.com/pcardosol/orbit/internal/client"
	"github.com/pcardosol/orbit/internal/session"
)

type attachList []string

func (a *attachList) String() string { return strings.Join(*a, ",") }

func (a *attachList) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	var attachFlag attachList
	flag.Var(&attachFlag, "attach", "file to attach to a send (repeatable)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: orbitctl login <username>")
			os.Exit(1)
		}
		cmdLogin(ctx, c, args[1], *jsonFlag)
	case "logout":
		cmdLogout(ctx, c)
	case "contacts":
		cmdContacts(ctx, c, *jsonFlag)
	case "presence":
		cmdPresence(ctx, c, *jsonFlag)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: orbitctl open <user-id>")
			os.Exit(1)
		}
		cmdOpen(ctx, c, args[1], *jsonFlag)
	case "close":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: orbitctl close <user-id>")
			os.Exit(1)
		}
		cmdClose(ctx, c, args[1])
	case "send":
		if len(args) < 2 || (len(args) < 3 && len(attachFlag) == 0) {
			fmt.Fprintln(os.Stderr, "usage: orbitctl [--attach <file>]... send <user-id> [text]")
			os.Exit(1)
		}
		text := strings.Join(args[2:], " ")
		cmdSend(ctx, c, args[1], text, attachFlag, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: orbitctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show session status")
	fmt.Fprintln(os.Stderr, "  login <username>     Log in (password prompted, or ORBIT_PASSWORD)")
	fmt.Fprintln(os.Stderr, "  logout               Log out and discard the stored session")
	fmt.Fprintln(os.Stderr, "  contacts             List contacts with unseen counts and presence")
	fmt.Fprintln(os.Stderr, "  presence             List currently-online user ids")
	fmt.Fprintln(os.Stderr, "  open <user-id>       Open a conversation and print its history")
	fmt.Fprintln(os.Stderr, "  close <user-id>      Close the active conversation")
	fmt.Fprintln(os.Stderr, "  send <user-id> [text]  Send a message (--attach for files)")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("State:   %s\n", resp.State)
	if resp.User != nil {
		fmt.Printf("User:    %s (%s)\n", resp.User.Username, resp.User.ID)
	}
	fmt.Printf("Gateway: %s\n", connectedWord(resp.GatewayConnected))
	fmt.Printf("Unseen:  %d\n", resp.UnseenTotal)
}

func cmdLogin(ctx context.Context, c *client.Client, username string, jsonOut bool) {
	password := os.Getenv("ORBIT_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fail(err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	user, err := c.Login(ctx, username, password)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(user)
		return
	}
	fmt.Printf("Logged in as %s (%s)\n", user.Username, user.ID)
}

func cmdLogout(ctx context.Context, c *client.Client) {
	if err := c.Logout(ctx); err != nil {
		fail(err)
	}
	fmt.Println("Logged out")
}

func cmdContacts(ctx context.Context, c *client.Client, jsonOut bool) {
	contacts, err := c.Contacts(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(contacts)
		return
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts")
		return
	}
	for _, ct := range contacts {
		marker := " "
		if ct.Online {
			marker = "*"
		}
		name := ct.User.FullName
		if name == "" {
			name = ct.User.Username
		}
		line := fmt.Sprintf("%s %-24s %s", marker, name, ct.Preview.Message)
		if ct.UnseenCount > 0 {
			line += fmt.Sprintf("  (%d unseen)", ct.UnseenCount)
		}
		fmt.Println(line)
	}
}

func cmdPresence(ctx context.Context, c *client.Client, jsonOut bool) {
	online, err := c.Presence(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(online)
		return
	}
	if len(online) == 0 {
		fmt.Println("Nobody online")
		return
	}
	for _, id := range online {
		fmt.Println(id)
	}
}

func cmdOpen(ctx context.Context, c *client.Client, userID string, jsonOut bool) {
	resp, err := c.Open(ctx, userID)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	name := resp.Peer.FullName
	if name == "" {
		name = resp.Peer.Username
	}
	fmt.Printf("Conversation with %s (%d messages)\n", name, len(resp.Messages))
	for _, m := range resp.Messages {
		who := name
		if m.SenderID != resp.Peer.ID {
			who = "me"
		}
		body := m.Text
		if body == "" && len(m.ImageURLs) > 0 {
			body = fmt.Sprintf("[%d photo(s)]", len(m.ImageURLs))
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, body)
	}
}

func cmdClose(ctx context.Context, c *client.Client, userID string) {
	if err := c.Close(ctx, userID); err != nil {
		fail(err)
	}
	fmt.Println("Conversation closed")
}

func cmdSend(ctx context.Context, c *client.Client, userID, text string, attachPaths []string, jsonOut bool) {
	attachments := make([]api.AttachmentPayload, 0, len(attachPaths))
	for _, path := range attachPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			fail(err)
		}
		attachments = append(attachments, api.AttachmentPayload{
			Name: filepath.Base(path),
			Data: data,
		})
	}

	sent, err := c.Send(ctx, userID, text, attachments)
	if err != nil {
		fail(err)
	}
	if sent == nil {
		fmt.Println("Nothing to send")
		return
	}
	if jsonOut {
		outputJSON(sent)
		return
	}
	fmt.Printf("Sent %s\n", sent.ID)
}

func connectedWord(up bool) string {
	if up {
		return "connected"
	}
	return "disconnected"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
