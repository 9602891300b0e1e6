package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

var (
	ErrNoCredentials = errors.New("notify: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	ErrNoToken       = errors.New("notify: no stored OAuth token")
	ErrNoRecipients  = errors.New("notify: no recipients")
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// GmailConfig configures the Gmail mailer. The token file holds an
// oauth2.Token in JSON, as written by an earlier consent flow.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenPath    string `yaml:"token_path"`
	From         string `yaml:"from"`
}

// DefaultTokenPath is ~/.iris/google_token.json.
func DefaultTokenPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".iris", "google_token.json")
}

// Gmail sends mail through the Gmail API as the authorized user.
type Gmail struct {
	svc  *gmail.Service
	from string
}

var _ Mailer = (*Gmail)(nil)

// NewGmail loads the stored token and builds the Gmail service. Refreshed
// tokens are written back to the token file. Extra client options are
// appended after the authenticated HTTP client.
func NewGmail(ctx context.Context, cfg GmailConfig, logger *slog.Logger, opts ...option.ClientOption) (*Gmail, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNoCredentials
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = DefaultTokenPath()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tok, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	ts := &savingTokenSource{
		base:   oauth2.ReuseTokenSource(tok, oc.TokenSource(ctx, tok)),
		path:   cfg.TokenPath,
		last:   tok.AccessToken,
		logger: logger.With("component", "notify.gmail"),
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: gmail service: %w", err)
	}
	return &Gmail{svc: svc, from: cfg.From}, nil
}

// NewGmailService wraps an already configured service.
func NewGmailService(svc *gmail.Service, from string) *Gmail {
	return &Gmail{svc: svc, from: from}
}

// Send delivers msg.
func (g *Gmail) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	raw := base64.URLEncoding.EncodeToString(Compose(g.from, msg))
	if _, err := g.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("notify: gmail send: %w", err)
	}
	return nil
}

// Compose renders msg as an RFC 5322 plain-text message.
func Compose(from string, msg Message) []byte {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, path)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("notify: parse token %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// savingTokenSource persists every newly issued access token.
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			s.logger.Warn("failed to save refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}
