package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// IMAPClient represents an IMAP client. It implements Session.
//
// An IMAPClient holds a single connection and therefore a single selected
// folder; folder handles re-select their folder when needed.
type IMAPClient struct {
	config   IMAPConfig
	client   *imapclient.Client
	selected string
	mode     OpenMode
	count    uint32
}

// IMAPConfig holds IMAP configuration
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	StartTLS bool

	// AuthMechanism is "LOGIN" (default) or "PLAIN".
	AuthMechanism string

	// TLSConfig overrides the TLS settings used for SSL and STARTTLS.
	TLSConfig *tls.Config
}

// Validate rejects incomplete or contradictory configurations.
func (c IMAPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("IMAP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("IMAP port out of range: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("IMAP username is required")
	}
	if c.SSL && c.StartTLS {
		return fmt.Errorf("IMAP ssl and starttls are mutually exclusive")
	}
	switch strings.ToUpper(c.AuthMechanism) {
	case "", "LOGIN", sasl.Plain:
	default:
		return fmt.Errorf("unsupported IMAP auth mechanism: %s", c.AuthMechanism)
	}
	return nil
}

// NewIMAPClient creates a new IMAP client. The configuration is validated
// here so that an incomplete client can never be constructed.
func NewIMAPClient(config IMAPConfig) (*IMAPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &IMAPClient{
		config: config,
	}, nil
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	var client *imapclient.Client
	var err error

	opts := &imapclient.Options{TLSConfig: c.config.TLSConfig}
	if c.config.SSL {
		client, err = imapclient.DialTLS(addr, opts)
	} else if c.config.StartTLS {
		client, err = imapclient.DialStartTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}

	// Authenticate
	if strings.EqualFold(c.config.AuthMechanism, sasl.Plain) {
		err = client.Authenticate(sasl.NewPlainClient("", c.config.Username, c.config.Password))
	} else {
		err = client.Login(c.config.Username, c.config.Password).Wait()
	}
	if err != nil {
		client.Close()
		return fmt.Errorf("IMAP authentication failed: %w", err)
	}

	c.client = client
	c.selected = ""
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		c.selected = ""
		return err
	}
	return nil
}

func (c *IMAPClient) ensureConnected() error {
	if c.client != nil {
		return nil
	}
	return c.Connect()
}

// Ping sends a NOOP command to keep the connection alive
func (c *IMAPClient) Ping() error {
	if c.client == nil {
		return nil
	}
	return c.client.Noop().Wait()
}

// ListFolders lists all folders/mailboxes
func (c *IMAPClient) ListFolders(ctx context.Context) ([]Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	mailboxes, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, remoteErr("list", "", err)
	}

	folders := make([]Folder, 0, len(mailboxes))
	for _, mb := range mailboxes {
		folders = append(folders, convertListData(mb))
	}
	return folders, nil
}

// LookupFolder reports whether name exists on the server.
func (c *IMAPClient) LookupFolder(ctx context.Context, name string) (Folder, bool, error) {
	if err := ctx.Err(); err != nil {
		return Folder{}, false, err
	}
	if err := c.ensureConnected(); err != nil {
		return Folder{}, false, err
	}

	mailboxes, err := c.client.List("", name, nil).Collect()
	if err != nil {
		return Folder{}, false, remoteErr("list", name, err)
	}
	for _, mb := range mailboxes {
		if sameMailbox(mb.Mailbox, name) {
			return convertListData(mb), true, nil
		}
	}
	return Folder{}, false, nil
}

// OpenFolder selects a folder. ReadOnly uses EXAMINE so that no flag can
// change while the handle is open.
func (c *IMAPClient) OpenFolder(ctx context.Context, name string, mode OpenMode) (FolderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "INBOX"
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if err := c.selectFolder(ctx, name, mode); err != nil {
		return nil, err
	}

	f := &imapFolder{c: c, name: name, mode: mode}
	if c.client.Caps().Has(imap.CapMove) {
		return &imapMoveFolder{f}, nil
	}
	return f, nil
}

func (c *IMAPClient) selectFolder(ctx context.Context, name string, mode OpenMode) error {
	if c.selected == name && c.mode == mode {
		return nil
	}
	selectData, err := c.client.Select(name, &imap.SelectOptions{ReadOnly: mode == ReadOnly}).Wait()
	if err != nil {
		c.selected = ""
		if isNonExistent(err) {
			return &FolderNotFoundError{Folder: name, Err: err}
		}
		if _, ok, lerr := c.LookupFolder(ctx, name); lerr == nil && !ok {
			return &FolderNotFoundError{Folder: name, Err: err}
		}
		return remoteErr("select", name, err)
	}
	c.selected = name
	c.mode = mode
	c.count = selectData.NumMessages
	return nil
}

// imapFolder is a selected IMAP mailbox.
type imapFolder struct {
	c      *IMAPClient
	name   string
	mode   OpenMode
	closed bool
}

// imapMoveFolder is returned when the server advertises MOVE.
type imapMoveFolder struct {
	*imapFolder
}

func (f *imapFolder) Name() string   { return f.name }
func (f *imapFolder) Mode() OpenMode { return f.mode }

// Count returns the message count reported by the last SELECT, re-selecting
// the folder if another handle or an expunge invalidated it.
func (f *imapFolder) Count(ctx context.Context) (uint32, error) {
	if err := f.ready(ctx); err != nil {
		return 0, err
	}
	return f.c.count, nil
}

func (f *imapFolder) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return fmt.Errorf("folder %s is closed", f.name)
	}
	if err := f.c.ensureConnected(); err != nil {
		return err
	}
	return f.c.selectFolder(ctx, f.name, f.mode)
}

func (f *imapFolder) Search(ctx context.Context, criteria SearchCriteria) ([]uint32, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}

	searchData, err := f.c.client.Search(convertCriteria(criteria), nil).Wait()
	if err != nil {
		return nil, remoteErr("search", f.name, err)
	}

	seqNums := searchData.AllSeqNums()
	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] < seqNums[j] })
	return seqNums, nil
}

// headerSection peeks at the header block so that metadata fetches never
// set \Seen.
var headerSection = &imap.FetchItemBodySection{
	Specifier: imap.PartSpecifierHeader,
	Peek:      true,
}

func (f *imapFolder) Fetch(ctx context.Context, seqNums []uint32) ([]*Message, error) {
	if len(seqNums) == 0 {
		return nil, nil
	}
	if err := f.ready(ctx); err != nil {
		return nil, err
	}
	return f.fetch(imap.SeqSetNum(seqNums...))
}

func (f *imapFolder) Messages(ctx context.Context, start, end uint32) ([]*Message, error) {
	if start == 0 {
		start = 1
	}
	if end < start {
		return nil, nil
	}
	if err := f.ready(ctx); err != nil {
		return nil, err
	}
	seqSet := imap.SeqSet{}
	seqSet.AddRange(start, end)
	return f.fetch(seqSet)
}

func (f *imapFolder) fetch(numSet imap.NumSet) ([]*Message, error) {
	fetchOptions := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{headerSection},
	}

	msgs, err := f.c.client.Fetch(numSet, fetchOptions).Collect()
	if err != nil {
		return nil, remoteErr("fetch", f.name, err)
	}

	messages := make([]*Message, 0, len(msgs))
	for _, buf := range msgs {
		msg, err := convertIMAPFetchBuffer(buf)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].SeqNum < messages[j].SeqNum })
	return messages, nil
}

// Open streams the full message. On read-write folders the body section is
// fetched without PEEK, so the server sets \Seen; read-only folders peek.
func (f *imapFolder) Open(ctx context.Context, msg *Message) (io.ReadCloser, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSetNum(imap.UID(msg.UID))
	bodySection := &imap.FetchItemBodySection{Peek: f.mode == ReadOnly}
	fetchCmd := f.c.client.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})

	data := fetchCmd.Next()
	if data == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, remoteErr("fetch", f.name, err)
		}
		return nil, ErrExpunged
	}

	// Iterate the message's data items to find the body section literal.
	var literal io.Reader
	for {
		item := data.Next()
		if item == nil {
			break
		}
		if bs, ok := item.(imapclient.FetchItemDataBodySection); ok {
			if bs.Literal != nil {
				literal = bs.Literal
				break
			}
		}
	}

	if literal == nil {
		fetchCmd.Close()
		return nil, ErrExpunged
	}

	return &fetchBody{Reader: literal, cmd: fetchCmd, folder: f.name}, nil
}

// fetchBody releases the FETCH command once the caller is done reading, so
// that the client can proceed with subsequent commands.
type fetchBody struct {
	io.Reader
	cmd    *imapclient.FetchCommand
	folder string
}

func (b *fetchBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	if err != nil && err != io.EOF {
		err = remoteErr("fetch", b.folder, err)
	}
	return n, err
}

func (b *fetchBody) Close() error {
	return remoteErr("fetch", b.folder, b.cmd.Close())
}

func (f *imapFolder) SetFlags(ctx context.Context, msgs []*Message, flag Flag, value bool) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := f.ready(ctx); err != nil {
		return err
	}

	op := imap.StoreFlagsAdd
	if !value {
		op = imap.StoreFlagsDel
	}
	storeCmd := f.c.client.Store(uidSetOf(msgs), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{imap.Flag(flag)},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return remoteErr("store", f.name, err)
	}
	return nil
}

func (f *imapFolder) Copy(ctx context.Context, msgs []*Message, target string) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := f.ready(ctx); err != nil {
		return err
	}
	if _, err := f.c.client.Copy(uidSetOf(msgs), target).Wait(); err != nil {
		if isTryCreate(err) || isNonExistent(err) {
			return &FolderNotFoundError{Folder: target, Err: err}
		}
		return remoteErr("copy", f.name, err)
	}
	return nil
}

func (f *imapFolder) Expunge(ctx context.Context) error {
	if err := f.ready(ctx); err != nil {
		return err
	}
	if err := f.c.client.Expunge().Close(); err != nil {
		return remoteErr("expunge", f.name, err)
	}
	// Sequence numbers and the message count changed.
	f.c.selected = ""
	return nil
}

func (f *imapFolder) Close() error {
	f.closed = true
	return nil
}

// Move uses the MOVE extension.
func (f *imapMoveFolder) Move(ctx context.Context, msgs []*Message, target string) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := f.ready(ctx); err != nil {
		return err
	}
	if _, err := f.c.client.Move(uidSetOf(msgs), target).Wait(); err != nil {
		if isTryCreate(err) || isNonExistent(err) {
			return &FolderNotFoundError{Folder: target, Err: err}
		}
		return remoteErr("move", f.name, err)
	}
	return nil
}

// --- internal helpers ---

func uidSetOf(msgs []*Message) imap.UIDSet {
	uids := make([]imap.UID, 0, len(msgs))
	for _, m := range msgs {
		uids = append(uids, imap.UID(m.UID))
	}
	return imap.UIDSetNum(uids...)
}

func convertCriteria(c SearchCriteria) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	for _, f := range c.Flag {
		criteria.Flag = append(criteria.Flag, imap.Flag(f))
	}
	for _, f := range c.NotFlag {
		criteria.NotFlag = append(criteria.NotFlag, imap.Flag(f))
	}
	for _, h := range c.Header {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   h.Name,
			Value: h.Value,
		})
	}
	return criteria
}

func convertListData(mb *imap.ListData) Folder {
	folder := Folder{Name: mb.Mailbox}
	for _, attr := range mb.Attrs {
		if attr == imap.MailboxAttrNoSelect {
			folder.ReadOnly = true
		}
		folder.Flags = append(folder.Flags, string(attr))
	}
	return folder
}

func sameMailbox(a, b string) bool {
	if strings.EqualFold(a, "INBOX") && strings.EqualFold(b, "INBOX") {
		return true
	}
	return a == b
}

func isNonExistent(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeNonExistent
}

func isTryCreate(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeTryCreate
}

// convertIMAPFetchBuffer converts a FetchMessageBuffer to our Message
func convertIMAPFetchBuffer(buf *imapclient.FetchMessageBuffer) (*Message, error) {
	msg := &Message{
		UID:    uint32(buf.UID),
		SeqNum: buf.SeqNum,
		Date:   buf.InternalDate,
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.From = convertIMAPAddresses(env.From)
		msg.To = convertIMAPAddresses(env.To)
		msg.Cc = convertIMAPAddresses(env.Cc)
	}

	if raw := buf.FindBodySection(headerSection); raw != nil {
		headers, err := ReadHeader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", buf.SeqNum, err)
		}
		msg.Headers = headers
	}

	// Convert flags
	for _, f := range buf.Flags {
		switch f {
		case imap.FlagSeen:
			msg.Flags.Seen = true
		case imap.FlagFlagged:
			msg.Flags.Flagged = true
		case imap.FlagAnswered:
			msg.Flags.Answered = true
		case imap.FlagDraft:
			msg.Flags.Draft = true
		case imap.FlagDeleted:
			msg.Flags.Deleted = true
		case "\\Recent":
			msg.Flags.Recent = true
		default:
			msg.Flags.Keywords = append(msg.Flags.Keywords, string(f))
		}
	}

	return msg, nil
}

// convertIMAPAddresses converts IMAP addresses to our Addresses
func convertIMAPAddresses(addrs []imap.Address) []Address {
	result := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, Address{
			Name:  a.Name,
			Email: a.Addr(),
		})
	}
	return result
}
