// Package mail reads unseen messages from an IMAP mailbox without changing their flags.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

const (
	defaultMailbox = "INBOX"
	dialTimeout    = 30 * time.Second
	plainIMAPPort  = 143
)

// Config holds the mailbox coordinates.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Mailbox  string
}

// IMAPSource fetches messages over IMAP using read-only selects and peeked bodies.
type IMAPSource struct {
	cfg    Config
	logger *slog.Logger
}

var _ ports.MailSource = (*IMAPSource)(nil)

// NewIMAPSource wires the mailbox configuration.
func NewIMAPSource(cfg Config, logger *slog.Logger) *IMAPSource {
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &IMAPSource{cfg: cfg, logger: logger}
}

// Fetch returns up to query.Limit matching messages. Connection and login failures are
// connection errors so callers can retry them.
func (s *IMAPSource) Fetch(ctx context.Context, query domain.FetchQuery) ([]domain.Message, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			s.logger.Debug("imap logout", "error", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return nil, domain.NewError(domain.KindConnection, "select mailbox", err)
	}

	uids, err := c.UidSearch(searchCriteria(query))
	if err != nil {
		return nil, domain.NewError(domain.KindConnection, "search mailbox", err)
	}
	uids = newest(uids, query)
	if len(uids) == 0 {
		s.logger.Info("no unseen messages", "mailbox", s.cfg.Mailbox)
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	fetched := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	byUID := make(map[uint32]domain.Message, len(uids))
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warn("message without body", "uid", msg.Uid)
			continue
		}
		parsed, err := ParseMessage(body)
		if err != nil {
			s.logger.Warn("skip unparsable message", "uid", msg.Uid, "error", err)
			continue
		}
		if parsed.Subject == "" && msg.Envelope != nil {
			parsed.Subject = msg.Envelope.Subject
		}
		byUID[msg.Uid] = parsed
	}
	if err := <-done; err != nil {
		return nil, domain.NewError(domain.KindConnection, "fetch messages", err)
	}

	messages := make([]domain.Message, 0, len(byUID))
	for _, uid := range uids {
		msg, ok := byUID[uid]
		if !ok || !MatchesSender(msg.Sender, query.SenderContains) {
			continue
		}
		messages = append(messages, msg)
	}

	s.logger.Info("messages fetched", "mailbox", s.cfg.Mailbox, "count", len(messages))
	return messages, nil
}

func (s *IMAPSource) connect(ctx context.Context) (*client.Client, error) {
	if s.cfg.Server == "" {
		return nil, domain.Errorf(domain.KindConfiguration, "imap server is not configured")
	}

	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Port == plainIMAPPort {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Server}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindConnection, "dial "+addr, err)
	}

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, domain.NewError(domain.KindConnection, "imap greeting", err)
	}
	c.Timeout = dialTimeout

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, domain.NewError(domain.KindConnection, "imap login", err)
	}

	s.logger.Debug("imap connected", "server", addr, "user", s.cfg.Username)
	return c, nil
}

func searchCriteria(query domain.FetchQuery) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if query.UnseenOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	if query.SenderContains != "" {
		criteria.Header.Add("From", query.SenderContains)
	}
	return criteria
}

// newest orders uids by the query direction and applies the limit.
func newest(uids []uint32, query domain.FetchQuery) []uint32 {
	sorted := slices.Clone(uids)
	slices.Sort(sorted)
	if query.NewestFirst {
		slices.Reverse(sorted)
	}
	if query.Limit > 0 && len(sorted) > query.Limit {
		sorted = sorted[:query.Limit]
	}
	return sorted
}

// MatchesSender reports whether sender contains filter, ignoring case. An empty filter matches everything.
func MatchesSender(sender, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(sender), strings.ToLower(filter))
}

func (c Config) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.Username, c.Server, c.Port, c.Mailbox)
}
