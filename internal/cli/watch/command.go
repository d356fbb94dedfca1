// Package watch follows a ticket thread over the live WebSocket endpoint.
package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
)

var (
	server string
	token  string
	listen bool
)

// NewCommand returns the watch command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <ticket-id>",
		Short: "Follow a ticket thread live",
		Long: `Open the live thread for a ticket and print every update. Lines typed on
stdin are posted as messages; "/refresh" reloads the thread.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "Service base URL")
	cmd.Flags().StringVarP(&token, "token", "t", os.Getenv("TICKETCTL_TOKEN"), "Session token (default: TICKETCTL_TOKEN)")
	cmd.Flags().BoolVar(&listen, "listen", false, "Only print updates; ignore stdin")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	if token == "" {
		return errors.New("a session token is required (--token or TICKETCTL_TOKEN)")
	}
	wsURL, err := BuildURL(server, args[0], token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(cmd.Context(), wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed: status=%d, err=%w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	if !listen {
		go forwardInput(cmd.Context(), conn, cmd.InOrStdin())
	}

	out := cmd.OutOrStdout()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		fmt.Fprintln(out, FormatFrame(raw))
	}
}

// BuildURL converts the service base URL into the ticket's WebSocket URL.
func BuildURL(base, ticketID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/tickets/" + ticketID
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func forwardInput(ctx context.Context, conn *websocket.Conn, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		frame, ok := ParseInput(scanner.Text())
		if !ok {
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// ParseInput maps one line of operator input to a client frame.
func ParseInput(line string) (any, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, false
	case line == "/refresh":
		return clientFrame{Type: "refresh"}, true
	case line == "/typing":
		return clientFrame{Type: "typing"}, true
	default:
		return clientFrame{Type: "message", Content: line}, true
	}
}

type serverFrame struct {
	conversation.Update
	Live  *bool `json:"live"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FormatFrame renders a server frame as one human-readable line.
func FormatFrame(raw []byte) string {
	var f serverFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "? " + string(raw)
	}
	switch f.Kind {
	case conversation.UpdateThread:
		if f.Thread == nil {
			return "thread"
		}
		live := f.Live != nil && *f.Live
		return fmt.Sprintf("thread %s %q [%s] %d message(s), origin=%s live=%t",
			f.Thread.Ticket.ID, f.Thread.Ticket.Title, f.Thread.Ticket.Status,
			len(f.Thread.Messages), f.Thread.Origin, live)
	case conversation.UpdateMessage:
		if f.Message == nil {
			return "message"
		}
		who := f.Message.UserID
		if f.Message.IsAdminMessage {
			who += " (support)"
		}
		return fmt.Sprintf("%s %s: %s", f.Message.CreatedAt.Format(time.Kitchen), who, f.Message.Content)
	case conversation.UpdateAttachments:
		names := make([]string, 0, len(f.Attachments))
		for _, a := range f.Attachments {
			names = append(names, a.Filename)
		}
		return "attachments: " + strings.Join(names, ", ")
	case conversation.UpdateStatusChanged:
		return fmt.Sprintf("status %s -> %s", f.OldStatus, f.NewStatus)
	case conversation.UpdateTyping:
		if f.Peer == nil {
			return "typing..."
		}
		return f.Peer.Name + " is typing..."
	case conversation.UpdateTypingCleared:
		return "typing stopped"
	case conversation.UpdateDegraded:
		return "live updates unavailable: " + f.Reason
	case "error":
		if f.Error == nil {
			return "error"
		}
		return fmt.Sprintf("error %s: %s", f.Error.Code, f.Error.Message)
	default:
		return string(f.Kind)
	}
}
