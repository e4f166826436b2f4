package email

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// ---------------------------------------------------------------------------
// IMAP mock server helper
// ---------------------------------------------------------------------------

const (
	imapTestUser = "testuser"
	imapTestPass = "testpass"
)

// newTestIMAPServer starts an in-memory IMAP server with INBOX and Archive
// and returns the listen address. The server is closed via t.Cleanup.
func newTestIMAPServer(t *testing.T) (addr string, memSrv *imapmemserver.Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return serveTestIMAP(t, ln, nil)
}

func serveTestIMAP(t *testing.T, ln net.Listener, tlsConfig *tls.Config) (string, *imapmemserver.Server) {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(imapTestUser, imapTestPass)
	user.Create("INBOX", nil)
	user.Create("Archive", nil)
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		TLSConfig:    tlsConfig,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String(), memSrv
}

// appendTestMail appends a raw RFC 5322 message to the given mailbox via
// a direct IMAP client (not through our wrapper).
func appendTestMail(t *testing.T, addr, mailbox, rawMsg string, flags ...imap.Flag) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	if err := c.Login(imapTestUser, imapTestPass).Wait(); err != nil {
		t.Fatal(err)
	}

	appendCmd := c.Append(mailbox, int64(len(rawMsg)), &imap.AppendOptions{Flags: flags})
	if _, err := appendCmd.Write([]byte(rawMsg)); err != nil {
		t.Fatal(err)
	}
	if err := appendCmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		t.Fatal(err)
	}
	c.Close()
}

// newIMAPTestClient creates an IMAPClient pointed at the test server.
func newIMAPTestClient(t *testing.T, addr string) *IMAPClient {
	t.Helper()
	client, err := NewIMAPClient(testIMAPConfig(t, addr))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func openTestFolder(t *testing.T, c *IMAPClient, name string, mode OpenMode) FolderHandle {
	t.Helper()
	f, err := c.OpenFolder(context.Background(), name, mode)
	if err != nil {
		t.Fatalf("OpenFolder(%s) error: %v", name, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func subjectMail(subject string) string {
	return strings.Replace(testMailRFC822, "Test Subject", subject, 1)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewIMAPClient_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  IMAPConfig
		ok   bool
	}{
		{"valid", IMAPConfig{Host: "h", Port: 993, Username: "u", SSL: true}, true},
		{"plain", IMAPConfig{Host: "h", Port: 143, Username: "u", AuthMechanism: "plain"}, true},
		{"missing host", IMAPConfig{Port: 993, Username: "u"}, false},
		{"bad port", IMAPConfig{Host: "h", Port: 70000, Username: "u"}, false},
		{"missing user", IMAPConfig{Host: "h", Port: 993}, false},
		{"ssl and starttls", IMAPConfig{Host: "h", Port: 993, Username: "u", SSL: true, StartTLS: true}, false},
		{"unknown mechanism", IMAPConfig{Host: "h", Port: 993, Username: "u", AuthMechanism: "XOAUTH2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewIMAPClient(tt.cfg)
			if tt.ok && (err != nil || c == nil) {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("expected error, got client")
			}
		})
	}
}

func TestIMAPConnect(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestIMAPConnect_SSL(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatal(err)
	}
	addr, _ := serveTestIMAP(t, ln, nil)

	cfg := testIMAPConfig(t, addr)
	cfg.SSL = true
	cfg.TLSConfig = clientTLS
	client, err := NewIMAPClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() over TLS error: %v", err)
	}
	client.Close()
}

func TestIMAPConnect_Plain(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	cfg := testIMAPConfig(t, addr)
	cfg.AuthMechanism = "PLAIN"
	client, err := NewIMAPClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("AUTHENTICATE PLAIN error: %v", err)
	}
	client.Close()
}

func TestIMAPConnect_BadCredentials(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	cfg := testIMAPConfig(t, addr)
	cfg.Username, cfg.Password = "wrong", "wrong"
	client, err := NewIMAPClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(); err == nil {
		client.Close()
		t.Fatal("expected auth error, got nil")
	}
}

func TestIMAPListFolders(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)
	ctx := context.Background()

	folders, err := client.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders() error: %v", err)
	}
	names := map[string]bool{}
	for _, f := range folders {
		names[f.Name] = true
	}
	if !names["INBOX"] || !names["Archive"] {
		t.Errorf("expected INBOX and Archive in folder list, got %v", folders)
	}

	if _, ok, err := client.LookupFolder(ctx, "Archive"); err != nil || !ok {
		t.Errorf("LookupFolder(Archive) = %v, %v", ok, err)
	}
	if _, ok, err := client.LookupFolder(ctx, "Missing"); err != nil || ok {
		t.Errorf("LookupFolder(Missing) = %v, %v", ok, err)
	}
}

func TestIMAPOpenFolder_NotFound(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	_, err := client.OpenFolder(context.Background(), "Missing", ReadOnly)
	if !IsFolderNotFound(err) {
		t.Fatalf("expected FolderNotFoundError, got %v", err)
	}
}

func TestIMAPOpenFolder_NoMoveCapability(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	f := openTestFolder(t, client, "INBOX", ReadWrite)
	if _, ok := f.(Mover); ok {
		t.Error("server without MOVE must not yield a Mover")
	}
}

func TestIMAPSearchAndFetch(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", subjectMail("one"))
	appendTestMail(t, addr, "INBOX", subjectMail("two"), imap.FlagSeen)
	appendTestMail(t, addr, "INBOX", subjectMail("three"), imap.FlagSeen, imap.FlagAnswered)

	client := newIMAPTestClient(t, addr)
	f := openTestFolder(t, client, "INBOX", ReadWrite)
	ctx := context.Background()

	if n, err := f.Count(ctx); err != nil || n != 3 {
		t.Fatalf("expected Count=3, got %d (%v)", n, err)
	}

	seqNums, err := f.Search(ctx, SearchCriteria{Flag: []Flag{FlagSeen}, NotFlag: []Flag{FlagAnswered}})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(seqNums) != 1 || seqNums[0] != 2 {
		t.Fatalf("expected [2], got %v", seqNums)
	}

	all, err := f.Search(ctx, SearchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := f.Fetch(ctx, all)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	first := msgs[0]
	if first.SeqNum != 1 || first.Subject != "one" {
		t.Errorf("unexpected first message: seq=%d subject=%q", first.SeqNum, first.Subject)
	}
	if first.Flags.Seen {
		t.Error("Fetch must not set \\Seen")
	}
	if got := first.HeaderValues("Message-Id"); len(got) != 1 || got[0] != "<test-1@example.com>" {
		t.Errorf("unexpected Message-Id headers: %v", got)
	}
	if len(first.From) != 1 || first.From[0].Email != "sender@example.com" {
		t.Errorf("unexpected From: %v", first.From)
	}
	if first.Date.IsZero() {
		t.Error("expected internal date")
	}
	if !msgs[2].Flags.Answered {
		t.Error("expected \\Answered on third message")
	}

	// Flags are unchanged after the metadata fetch.
	again, err := f.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Flags.Seen {
		t.Error("header peek set \\Seen")
	}
}

func TestIMAPOpen_SetsSeenOnReadWrite(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailMultipart)

	client := newIMAPTestClient(t, addr)
	ctx := context.Background()
	f := openTestFolder(t, client, "INBOX", ReadWrite)

	msgs, err := f.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := f.Open(ctx, msgs[0])
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "BINARYDATA") {
		t.Errorf("unexpected content: %q", body)
	}

	after, err := f.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !after[0].Flags.Seen {
		t.Error("expected \\Seen after reading content")
	}
}

func TestIMAPOpen_ReadOnlyKeepsUnseen(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	client := newIMAPTestClient(t, addr)
	ctx := context.Background()

	ro := openTestFolder(t, client, "INBOX", ReadOnly)
	msgs, err := ro.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := ro.Open(ctx, msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, rc)
	rc.Close()

	unseen, err := ro.Search(ctx, SearchCriteria{NotFlag: []Flag{FlagSeen}})
	if err != nil {
		t.Fatal(err)
	}
	if len(unseen) != 1 {
		t.Errorf("read-only open changed \\Seen")
	}
}

func TestIMAPOpen_Expunged(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	client := newIMAPTestClient(t, addr)
	f := openTestFolder(t, client, "INBOX", ReadWrite)

	_, err := f.Open(context.Background(), &Message{SeqNum: 1, UID: 999})
	if !errors.Is(err, ErrExpunged) {
		t.Fatalf("expected ErrExpunged, got %v", err)
	}
}

func TestIMAPSetFlags_Bulk(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	for i := 0; i < 3; i++ {
		appendTestMail(t, addr, "INBOX", testMailRFC822, imap.FlagSeen)
	}

	client := newIMAPTestClient(t, addr)
	ctx := context.Background()
	f := openTestFolder(t, client, "INBOX", ReadWrite)

	msgs, err := f.Messages(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.SetFlags(ctx, msgs[:2], FlagSeen, false); err != nil {
		t.Fatalf("SetFlags() error: %v", err)
	}

	unseen, err := f.Search(ctx, SearchCriteria{NotFlag: []Flag{FlagSeen}})
	if err != nil {
		t.Fatal(err)
	}
	if len(unseen) != 2 || unseen[0] != 1 || unseen[1] != 2 {
		t.Errorf("expected [1 2] unseen, got %v", unseen)
	}
}

func TestIMAPCopyDeleteExpunge(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", subjectMail("keep"))
	appendTestMail(t, addr, "INBOX", subjectMail("move"))

	client := newIMAPTestClient(t, addr)
	ctx := context.Background()
	f := openTestFolder(t, client, "INBOX", ReadWrite)

	msgs, err := f.Messages(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Copy(ctx, msgs, "Archive"); err != nil {
		t.Fatalf("Copy() error: %v", err)
	}
	if err := f.SetFlags(ctx, msgs, FlagDeleted, true); err != nil {
		t.Fatal(err)
	}
	if err := f.Expunge(ctx); err != nil {
		t.Fatalf("Expunge() error: %v", err)
	}
	if n, err := f.Count(ctx); err != nil || n != 1 {
		t.Errorf("expected 1 message left in INBOX, got %d (%v)", n, err)
	}

	archive := openTestFolder(t, client, "Archive", ReadOnly)
	archived, err := archive.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	moved, err := archive.Messages(ctx, 1, archived)
	if err != nil {
		t.Fatal(err)
	}
	if len(moved) != 1 || moved[0].Subject != "move" {
		t.Errorf("unexpected Archive content: %v", moved)
	}

	// The INBOX handle re-selects transparently.
	left, err := f.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if left[0].Subject != "keep" {
		t.Errorf("unexpected remaining message: %q", left[0].Subject)
	}
}

func TestIMAPCount_Errors(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	f, err := client.OpenFolder(context.Background(), "INBOX", ReadOnly)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Count(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	f.Close()
	if n, err := f.Count(context.Background()); err == nil {
		t.Errorf("expected error counting a closed folder, got %d", n)
	}
}

func TestIMAPCopy_TargetMissing(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	client := newIMAPTestClient(t, addr)
	ctx := context.Background()
	f := openTestFolder(t, client, "INBOX", ReadWrite)

	msgs, err := f.Messages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	err = f.Copy(ctx, msgs, "Nowhere")
	if err == nil {
		t.Fatal("expected error copying to a missing folder")
	}
	var remote *RemoteError
	if !IsFolderNotFound(err) && !errors.As(err, &remote) {
		t.Errorf("unexpected error type: %T %v", err, err)
	}
}

func TestIMAPCanceledContext(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.OpenFolder(ctx, "INBOX", ReadOnly); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestListMessages(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	for _, s := range []string{"a", "b", "c"} {
		appendTestMail(t, addr, "INBOX", subjectMail(s))
	}
	appendTestMail(t, addr, "INBOX", subjectMail("d"), imap.FlagSeen)

	client := newIMAPTestClient(t, addr)
	result, err := ListMessages(context.Background(), client, "INBOX", 2)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if result.Total != 4 || result.Unread != 3 {
		t.Errorf("unexpected totals: total=%d unread=%d", result.Total, result.Unread)
	}
	if len(result.Messages) != 2 || result.Messages[0].Subject != "d" || result.Messages[1].Subject != "c" {
		t.Errorf("expected newest first [d c], got %v", result.Messages)
	}
}

func TestListMessages_Empty(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	result, err := ListMessages(context.Background(), client, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Folder != "INBOX" || len(result.Messages) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestIMAPWatch_Once(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	client := newIMAPTestClient(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	calls := 0
	err := client.Watch(ctx, WatchOptions{Once: true, PollOnly: true}, func(ctx context.Context) error {
		calls++
		result, err := ListMessages(ctx, client, "INBOX", 10)
		if err != nil {
			return err
		}
		if len(result.Messages) != 1 {
			t.Errorf("expected 1 message, got %d", len(result.Messages))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one change callback, got %d", calls)
	}
}

func TestIMAPWatch_PollUntilCanceled(t *testing.T) {
	addr, _ := newTestIMAPServer(t)
	client := newIMAPTestClient(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := client.Watch(ctx, WatchOptions{PollOnly: true, PollInterval: 1}, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("handler failure does not stop the loop")
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 callbacks, got %d", calls)
	}
}
