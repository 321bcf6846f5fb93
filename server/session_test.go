package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/udokmeci/imapd/config"
)

func testMail(subject string) []byte {
	return []byte(fmt.Sprintf("From: a@example.com\r\nTo: b@example.com\r\nSubject: %s\r\n\r\nbody\r\n", subject))
}

func addMessages(t *testing.T, ts *testServer, folder string, n int) {
	t.Helper()
	err := ts.reactor.Do(context.Background(), func() error {
		for i := 0; i < n; i++ {
			if _, err := ts.reactor.Registry().AddMessage(testMail(fmt.Sprintf("msg %d", i)), folder, nil, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
}

func count(t *testing.T, ts *testServer, folder string) int {
	t.Helper()
	var n int
	err := ts.reactor.Do(context.Background(), func() error {
		var err error
		n, err = ts.reactor.Registry().Count(folder)
		return err
	})
	if err != nil {
		t.Fatalf("Count(%s): %v", folder, err)
	}
	return n
}

func TestSessionCommands(t *testing.T) {
	ts := startReactor(t, Options{})
	addMessages(t, ts, "", 2)

	c := dial(t, ts)
	if got := c.readLine(); got != "* OK imapd IMAP4rev1 service ready" {
		t.Fatalf("greeting = %q", got)
	}

	tests := []struct {
		tag, line string
		want      []string
	}{
		{"a1", "CAPABILITY", []string{"* CAPABILITY IMAP4rev1", "a1 OK CAPABILITY completed"}},
		{"a2", "CREATE Sent", []string{"a2 OK CREATE completed"}},
		{"a3", "CREATE Sent.2024", []string{"a3 OK CREATE completed"}},
		{"a4", `LIST "" *`, []string{
			`* LIST () "." INBOX`,
			`* LIST () "." "Sent"`,
			`* LIST () "." "Sent.2024"`,
			"a4 OK LIST completed",
		}},
		{"a5", `LIST "" %`, []string{
			`* LIST () "." INBOX`,
			`* LIST () "." "Sent"`,
			"a5 OK LIST completed",
		}},
		{"a6", `LIST "" ""`, []string{`* LIST (\Noselect) "." ""`, "a6 OK LIST completed"}},
		{"a7", "COPY 1 Sent", []string{"a7 NO No mailbox selected"}},
		{"a8", "SELECT INBOX", []string{
			`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
			"* 2 EXISTS",
			"a8 OK [READ-WRITE] SELECT completed",
		}},
		{"a9", "COPY 1:* Sent", []string{"a9 OK COPY completed"}},
		{"b1", "COPY 1 Nope", []string{"b1 NO [TRYCREATE] Destination mailbox does not exist"}},
		{"b2", "COPY 1:* INBOX", []string{"b2 OK COPY completed"}},
		{"b3", "SELECT Nope", []string{"b3 NO SELECT failed: not found"}},
		{"b4", "COPY 1 Sent", []string{"b4 NO No mailbox selected"}},
		{"b5", "CREATE INBOX", []string{"b5 NO Cannot create INBOX"}},
		{"b6", "EXPUNGE", []string{"b6 BAD Unknown command"}},
		{"b7", "NOOP", []string{"b7 OK NOOP completed"}},
	}
	for _, tt := range tests {
		got := c.cmd(tt.tag, tt.line)
		if strings.Join(got, "\n") != strings.Join(tt.want, "\n") {
			t.Errorf("%s %s:\n got %q\nwant %q", tt.tag, tt.line, got, tt.want)
		}
	}

	if n := count(t, ts, "Sent"); n != 2 {
		t.Errorf("Sent has %d messages, want 2", n)
	}
	if n := count(t, ts, "INBOX"); n != 4 {
		t.Errorf("INBOX has %d messages, want 4", n)
	}

	got := c.cmd("z1", "LOGOUT")
	if len(got) != 2 || got[0] != "* BYE Logging out" || got[1] != "z1 OK LOGOUT completed" {
		t.Errorf("LOGOUT = %q", got)
	}
	waitFor(t, "logout", func() bool { return ts.reactor.Sessions() == 0 })
}

func TestSessionBadInput(t *testing.T) {
	ts := startReactor(t, Options{})
	c := dial(t, ts)
	c.readLine()

	c.send("")
	if got := c.readLine(); got != "* BAD Invalid command" {
		t.Errorf("empty line = %q", got)
	}
	c.send("x1")
	if got := c.readLine(); got != "x1 BAD Missing command" {
		t.Errorf("missing command = %q", got)
	}
	if got := c.cmd("x2", "LIST onlyone"); got[0] != "x2 BAD LIST requires reference and mailbox" {
		t.Errorf("LIST = %q", got)
	}

	// comando dividido em várias leituras
	fmt.Fprint(c.conn, "x3 NO")
	time.Sleep(30 * time.Millisecond)
	fmt.Fprint(c.conn, "OP\r\n")
	if got := c.readLine(); got != "x3 OK NOOP completed" {
		t.Errorf("split NOOP = %q", got)
	}
}

func TestSessionLineTooLong(t *testing.T) {
	ts := startReactor(t, Options{})
	c := dial(t, ts)
	c.readLine()
	waitFor(t, "session", func() bool { return ts.reactor.Sessions() == 1 })

	c.conn.Write(bytes.Repeat([]byte("a"), maxLineLength+1))
	if got := c.readLine(); got != "* BAD Line too long" {
		t.Errorf("got %q", got)
	}
	waitFor(t, "session closed", func() bool { return ts.reactor.Sessions() == 0 })
}

func TestSMTPDelivery(t *testing.T) {
	ts := startReactor(t, Options{})
	b := NewSMTPBackend(ts.reactor, time.Second)

	s := &SMTPSession{backend: b, remote: "test"}
	if err := s.Mail("a@example.com", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Rcpt("b@example.com", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Data(bytes.NewReader(testMail("smtp"))); err != nil {
		t.Fatalf("Data: %v", err)
	}
	s.Reset()
	if s.from != "" || s.to != nil {
		t.Error("Reset kept transaction state")
	}

	if n := count(t, ts, "INBOX"); n != 1 {
		t.Fatalf("INBOX has %d messages", n)
	}
	var subject string
	err := ts.reactor.Do(context.Background(), func() error {
		reg := ts.reactor.Registry()
		id, err := reg.IDBySeq(1, "INBOX")
		if err != nil {
			return err
		}
		m, err := reg.MessageByID(id)
		if err != nil {
			return err
		}
		if !bytes.Contains(m.Raw, []byte("Subject: smtp")) {
			return errors.New("stored message differs")
		}
		subject = "smtp"
		return nil
	})
	if err != nil || subject != "smtp" {
		t.Fatalf("stored message: %v", err)
	}

	ts.stop()
	err = s.Data(bytes.NewReader(testMail("late")))
	var se *smtp.SMTPError
	if !errors.As(err, &se) || se.Code != 421 {
		t.Errorf("Data after shutdown = %v", err)
	}
}

func TestNewSMTPServer(t *testing.T) {
	ts := startReactor(t, Options{})
	srv := NewSMTPServer(config.SMTPConfig{
		Address:         "127.0.0.1",
		Port:            2525,
		Domain:          "mail.example.com",
		MaxMessageBytes: 4096,
		MaxRecipients:   5,
		Timeout:         time.Second,
	}, ts.reactor)

	if srv.Addr != "127.0.0.1:2525" || srv.Domain != "mail.example.com" {
		t.Errorf("server = %s %s", srv.Addr, srv.Domain)
	}
	if srv.MaxMessageBytes != 4096 || srv.MaxRecipients != 5 || srv.ReadTimeout != time.Second {
		t.Errorf("limits = %d %d %v", srv.MaxMessageBytes, srv.MaxRecipients, srv.ReadTimeout)
	}
}
