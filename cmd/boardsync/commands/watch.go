package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
)

var watchFlags struct {
	url          string
	token        string
	org          string
	project      string
	channel      string
	pingInterval time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a board through the relay and log every change",
	Long: `Connect to a relay, load the board of --project and keep it in sync,
logging remote moves, connection state changes, presence and typing.

--url is the relay base URL, e.g. http://localhost:8080. The websocket
endpoint and the board API are derived from it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWatch(cmd.Context())
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.url, "url", "http://localhost:8080", "relay base URL")
	f.StringVar(&watchFlags.token, "token", os.Getenv("BOARDSYNC_TOKEN"), "session token (default $BOARDSYNC_TOKEN)")
	f.StringVar(&watchFlags.org, "org", "", "organization ID")
	f.StringVar(&watchFlags.project, "project", "", "project ID")
	f.StringVar(&watchFlags.channel, "channel", "", "also join this channel room and log typing")
	f.DurationVar(&watchFlags.pingInterval, "ping-interval", 25*time.Second, "keepalive ping interval (0 disables)")
	_ = watchCmd.MarkFlagRequired("org")
	_ = watchCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	orgID, err := uuid.Parse(watchFlags.org)
	if err != nil {
		return fmt.Errorf("--org: %w", err)
	}
	projectID, err := uuid.Parse(watchFlags.project)
	if err != nil {
		return fmt.Errorf("--project: %w", err)
	}
	if watchFlags.token == "" {
		return errors.New("--token or BOARDSYNC_TOKEN is required")
	}
	wsURL, err := websocketURL(watchFlags.url)
	if err != nil {
		return err
	}

	token := func() string { return watchFlags.token }

	mgr, err := realtime.NewManager(realtime.Options{
		URL:          wsURL,
		OrgID:        orgID,
		Token:        token,
		PingInterval: watchFlags.pingInterval,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer mgr.OnState(func(s realtime.State) {
		log.Info().Stringer("state", s).Msg("connection")
	})()

	defer realtime.OnMove(mgr, func(ev domain.MoveEvent) {
		log.Info().
			Str("card_id", ev.CardID.String()).
			Str("to_column", ev.ToColumn.String()).
			Int("order", ev.Order).
			Uint64("seq", ev.Seq).
			Msg("card moved")
	})()

	presence := realtime.NewPresence(mgr)
	defer presence.OnPresence(func(ev domain.PresenceEvent) {
		log.Info().Str("user_id", ev.UserID.String()).Str("status", string(ev.Status)).Msg("presence")
	})()
	if watchFlags.channel != "" {
		presence.Enter(watchFlags.channel)
		defer presence.OnTyping(func(ev domain.TypingEvent) {
			log.Info().Str("user_id", ev.UserID.String()).Str("channel", ev.Channel).Bool("stopped", ev.Stopped).Msg("typing")
		})()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- mgr.Run(ctx)
	}()

	session, err := board.Open(ctx, mgr, board.NewHTTPFetcher(strings.TrimRight(watchFlags.url, "/"), token), orgID, projectID)
	if err != nil {
		cancel()
		<-runErr
		return err
	}
	defer session.Close()

	logBoard(session.Store().Snapshot())
	defer session.Store().OnChange(logBoard)()

	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		return err
	}
}

func logBoard(b domain.Board) {
	ev := log.Info().Int("columns", len(b.Columns))
	for _, col := range b.Columns {
		ev = ev.Int(col.Title, len(col.Cards))
	}
	ev.Msg("board")
}

// websocketURL maps an http(s) base URL to the relay's ws(s) endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("--url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("--url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
