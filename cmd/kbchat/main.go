package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hatcher/kbchat/api"
	"github.com/hatcher/kbchat/pkg/cfg"
	"github.com/hatcher/kbchat/pkg/logs"
	"github.com/hatcher/kbchat/pkg/safego"
	"github.com/hatcher/kbchat/state"
	"github.com/hatcher/kbchat/token"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	API   api.Config     `json:"api" yaml:"api" mapstructure:"api"`
	Token token.Config   `json:"token" yaml:"token" mapstructure:"token"`
	Log   logs.LogConfig `json:"log" yaml:"log" mapstructure:"log"`
}

var (
	configDir  = flag.String("conf", "etc", "config directory")
	configName = flag.String("name", "config", "config file name without suffix")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	var conf AppConfig
	if err := cfg.LoadConfig(*configDir, *configName, "yaml", &conf); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logs.InitLogger(conf.Log, "kbchat.log"); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	if base := os.Getenv("KBCHAT_BASE_URL"); base != "" {
		conf.API.BaseURL = base
	}

	store, err := token.NewStore(conf.Token)
	if err != nil {
		logs.Fatalf("init token store: %v", err)
	}

	client := api.New(conf.API, store)
	client.SetAuthLostHandler(func() {
		fmt.Println("\nsession expired, please login again")
	})

	mgr := state.NewManager(client)
	defer mgr.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Print streamed reply chunks as they arrive.
	sub := mgr.Subscribe(ctx)
	safego.Go(ctx, func() {
		for ev := range sub {
			if ev.Payload.Kind == state.DeltaReceived {
				fmt.Print(ev.Payload.Delta)
			}
		}
	})

	runREPL(ctx, client, mgr)
}

const usage = `commands:
  register <user> <pass>   create an account and sign in
  login <user> <pass>      sign in
  logout                   sign out
  sessions                 list chat sessions (repeat for next page)
  new [title]              create a session and switch to it
  open <id>                switch to a session
  rename <id> <title>      rename a session
  rm <id>                  delete a session
  say <text>               send a message, wait for the full reply
  stream <text>            send a message, stream the reply
  files                    list uploaded documents
  upload <path>            upload a document
  keys                     list provider API keys
  stats                    show usage summary
  quit`

func runREPL(ctx context.Context, client *api.Client, mgr *state.Manager) {
	fmt.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		cmd, rest := parts[0], ""
		if len(parts) == 2 {
			rest = strings.TrimSpace(parts[1])
		}

		var err error
		switch cmd {
		case "register", "login":
			err = doAuth(ctx, client, cmd, rest)
		case "logout":
			err = client.Logout(ctx)
		case "sessions":
			err = doSessions(ctx, mgr)
		case "new":
			_, err = mgr.CreateSession(ctx, rest)
		case "open":
			err = doOpen(ctx, mgr, rest)
		case "rename":
			err = doRename(ctx, mgr, rest)
		case "rm":
			err = doDelete(ctx, mgr, rest)
		case "say":
			err = doSend(ctx, mgr, rest, false)
		case "stream":
			err = doSend(ctx, mgr, rest, true)
		case "files":
			err = doFiles(ctx, client)
		case "upload":
			err = doUpload(ctx, mgr, rest)
		case "keys":
			err = doKeys(ctx, client)
		case "stats":
			err = doStats(ctx, client)
		case "quit", "exit":
			return
		case "help":
			fmt.Println(usage)
		default:
			fmt.Printf("unknown command %q\n", cmd)
			continue
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func doAuth(ctx context.Context, client *api.Client, cmd, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return fmt.Errorf("usage: %s <user> <pass>", cmd)
	}
	if cmd == "register" {
		u, e := client.Register(ctx, fields[0], fields[1])
		if e != nil {
			return e
		}
		fmt.Printf("registered as %s\n", u.Username)
		return nil
	}
	u, err := client.Login(ctx, fields[0], fields[1])
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", u.Username)
	return nil
}

func doSessions(ctx context.Context, mgr *state.Manager) error {
	if err := mgr.FetchSessions(ctx, len(mgr.Sessions()) == 0); err != nil {
		return err
	}
	for _, s := range mgr.Sessions() {
		fmt.Printf("%6d  %-30s  %s\n", s.ID, s.Title, s.LastActiveAt)
	}
	if !mgr.HasMore() {
		fmt.Println("(end of history)")
	}
	return nil
}

func doOpen(ctx context.Context, mgr *state.Manager, rest string) error {
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("usage: open <id>")
	}
	if err := mgr.LoadSession(ctx, id); err != nil {
		return err
	}
	for _, m := range mgr.Messages() {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func doRename(ctx context.Context, mgr *state.Manager, rest string) error {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return fmt.Errorf("usage: rename <id> <title>")
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fmt.Errorf("usage: rename <id> <title>")
	}
	return mgr.RenameSession(ctx, id, strings.TrimSpace(fields[1]))
}

func doDelete(ctx context.Context, mgr *state.Manager, rest string) error {
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("usage: rm <id>")
	}
	return mgr.DeleteSession(ctx, id)
}

func doSend(ctx context.Context, mgr *state.Manager, text string, streaming bool) error {
	if text == "" {
		return fmt.Errorf("empty message")
	}
	req := api.SendMessageRequest{Message: text}
	if streaming {
		err := mgr.SendMessageStream(ctx, req)
		fmt.Println()
		return err
	}
	if err := mgr.SendMessage(ctx, req); err != nil {
		return err
	}
	msgs := mgr.Messages()
	if len(msgs) > 0 {
		fmt.Printf("[%s] %s\n", msgs[len(msgs)-1].Role, msgs[len(msgs)-1].Content)
	}
	return nil
}

func doFiles(ctx context.Context, client *api.Client) error {
	docs, _, err := client.ListFiles(ctx, 1, 50)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Printf("%6d  %-30s  %-10s  %d chunks\n", d.ID, d.Filename, d.ParsingStatus, d.ChunkCount)
	}
	return nil
}

func doUpload(ctx context.Context, mgr *state.Manager, path string) error {
	if path == "" {
		return fmt.Errorf("usage: upload <path>")
	}
	doc, err := mgr.UploadDocument(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s (id=%d, status=%s)\n", doc.Filename, doc.ID, doc.ParsingStatus)
	return nil
}

func doKeys(ctx context.Context, client *api.Client) error {
	keys, err := client.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Printf("%-12s  %-24s  active=%v\n", k.Provider, k.APIKeyMasked, k.IsActive)
	}
	return nil
}

func doStats(ctx context.Context, client *api.Client) error {
	stats, err := client.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d (%d parsed)\nsessions: %d, messages: %d\napi keys: %d\n",
		stats.Documents.Total, stats.Documents.Completed,
		stats.Chat.Sessions, stats.Chat.Messages, stats.APIKeys)
	return nil
}
