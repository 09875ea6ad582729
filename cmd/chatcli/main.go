// Command chatcli is a terminal front-end for the chat server.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"grok-chatbot/chatclient"
	"grok-chatbot/config"
	"grok-chatbot/httpclient"
	"grok-chatbot/logger"
)

const help = `commands:
  /list                   list chats
  /new [title]            start a chat
  /open <id>              open a chat
  /rename <title>         rename the open chat
  /delete                 delete the open chat
  /image <path> [caption] send an image
  /retry                  resend the last failed message
  /discard                drop the last failed message
  /quit                   exit
anything else is sent as a message`

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := chatclient.NewAPI(httpclient.New(httpclient.Config{Timeout: cfg.Timeout, Logger: log}), cfg.ServerURL)
	store := chatclient.NewStore(api, chatclient.WithLogger(log))

	app := &cli{store: store, out: os.Stdout}
	if err := app.run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cli struct {
	store *chatclient.Store
	out   io.Writer
}

func (c *cli) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, help)
	if err := c.store.ListChats(ctx); err != nil {
		c.renderError(err)
	} else {
		c.renderList()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		c.handle(ctx, line)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *cli) handle(ctx context.Context, line string) {
	cmd, arg := line, ""
	if strings.HasPrefix(line, "/") {
		if i := strings.IndexByte(line, ' '); i > 0 {
			cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
		}
	} else {
		cmd, arg = "", line
	}

	var err error
	switch cmd {
	case "/list":
		if err = c.store.ListChats(ctx); err == nil {
			c.renderList()
			return
		}
	case "/new":
		_, err = c.store.CreateChat(ctx, arg)
	case "/open":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: /open <id>")
			return
		}
		err = c.store.LoadChat(ctx, arg)
	case "/rename":
		id, ok := c.activeID()
		if !ok {
			return
		}
		err = c.store.RenameChat(ctx, id, arg)
	case "/delete":
		id, ok := c.activeID()
		if !ok {
			return
		}
		if err = c.store.DeleteChat(ctx, id); err == nil {
			fmt.Fprintln(c.out, "deleted")
			return
		}
	case "/image":
		image, caption, readErr := readImage(arg)
		if readErr != nil {
			fmt.Fprintln(c.out, "! "+readErr.Error())
			return
		}
		err = c.store.SendImage(ctx, "", caption, image)
	case "/retry":
		id, ok := c.lastFailed()
		if !ok {
			return
		}
		err = c.store.RetryMessage(ctx, id)
	case "/discard":
		id, ok := c.lastFailed()
		if !ok {
			return
		}
		err = c.store.DiscardMessage(id)
	case "":
		err = c.store.SendMessage(ctx, "", arg)
	default:
		fmt.Fprintln(c.out, help)
		return
	}

	if err != nil {
		c.renderError(err)
	}
	c.renderActive()
}

// readImage parses "<path> [caption]" and loads the file.
func readImage(arg string) (chatclient.Image, string, error) {
	path, caption := arg, ""
	if i := strings.IndexByte(arg, ' '); i > 0 {
		path, caption = arg[:i], strings.TrimSpace(arg[i+1:])
	}
	if path == "" {
		return chatclient.Image{}, "", errors.New("usage: /image <path> [caption]")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return chatclient.Image{}, "", err
	}
	return chatclient.Image{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: http.DetectContentType(data),
	}, caption, nil
}

func (c *cli) activeID() (string, bool) {
	state := c.store.Snapshot()
	if state.Active == nil {
		fmt.Fprintln(c.out, "no chat open, use /open <id> or /new")
		return "", false
	}
	return state.Active.ID, true
}

func (c *cli) lastFailed() (string, bool) {
	state := c.store.Snapshot()
	if state.Active != nil {
		msgs := state.Active.Messages
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Status == chatclient.StatusFailed {
				return msgs[i].ID, true
			}
		}
	}
	fmt.Fprintln(c.out, "no failed message")
	return "", false
}

func (c *cli) renderList() {
	state := c.store.Snapshot()
	if len(state.Chats) == 0 {
		fmt.Fprintln(c.out, "no chats yet")
		return
	}
	for _, chat := range state.Chats {
		marker := " "
		if state.Active != nil && state.Active.ID == chat.ID {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %s  %s\n", marker, chat.ID, chat.Title)
	}
}

func (c *cli) renderActive() {
	state := c.store.Snapshot()
	if state.Active == nil {
		return
	}
	fmt.Fprintf(c.out, "== %s (%s)\n", state.Active.Title, state.Active.ID)
	for _, m := range state.Active.Messages {
		text := m.Content
		if m.ImageData != "" {
			text = strings.TrimSpace("[image] " + text)
		}
		suffix := ""
		switch m.Status {
		case chatclient.StatusPending:
			suffix = " (sending)"
		case chatclient.StatusFailed:
			suffix = " (failed, /retry or /discard)"
		}
		fmt.Fprintf(c.out, "%-9s %s%s\n", m.Role+":", text, suffix)
	}
}

// renderError prints the store's error, or err when the store has none.
func (c *cli) renderError(err error) {
	msg := c.store.Snapshot().Err
	switch {
	case errors.Is(err, chatclient.ErrReplyPending):
		msg = "still waiting for the last reply"
	case msg == "":
		msg = err.Error()
	}
	fmt.Fprintln(c.out, "! "+msg)
}
