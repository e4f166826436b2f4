package email

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"
)

// testTLS returns a server config with a fresh self-signed certificate and
// a client config that trusts exactly that certificate.
func testTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(leaf)
	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
	}
	client = &tls.Config{RootCAs: roots, ServerName: "localhost"}
	return server, client
}

// testIMAPConfig points a client config at addr with the test credentials.
func testIMAPConfig(t *testing.T, addr string) IMAPConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return IMAPConfig{
		Host:     host,
		Port:     port,
		Username: imapTestUser,
		Password: imapTestPass,
	}
}

// testMessage assembles a CRLF message with the headers every fixture shares.
func testMessage(subject, messageID, contentType, body string) string {
	return "MIME-Version: 1.0\r\n" +
		"From: sender@example.com\r\n" +
		"To: rcpt@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
		"Message-Id: " + messageID + "\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"\r\n" +
		body
}

var (
	testMailRFC822 = testMessage("Test Subject", "<test-1@example.com>",
		"text/plain; charset=utf-8", "Hello, World!")

	// text body plus one attachment
	testMailMultipart = testMessage("Multipart Test", "<test-multi@example.com>",
		`multipart/mixed; boundary="TESTBOUNDARY"`,
		"--TESTBOUNDARY\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"\r\n"+
			"Plain text body\r\n"+
			"--TESTBOUNDARY\r\n"+
			"Content-Type: application/octet-stream\r\n"+
			"Content-Disposition: attachment; filename=\"test.bin\"\r\n"+
			"\r\n"+
			"BINARYDATA\r\n"+
			"--TESTBOUNDARY--\r\n")

	// alternative inside mixed, then an image attachment
	testMailNested = testMessage("Nested Multipart", "<test-nested@example.com>",
		`multipart/mixed; boundary="OUTER"`,
		"--OUTER\r\n"+
			"Content-Type: multipart/alternative; boundary=\"INNER\"\r\n"+
			"\r\n"+
			"--INNER\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"\r\n"+
			"Plain version\r\n"+
			"--INNER\r\n"+
			"Content-Type: text/html; charset=utf-8\r\n"+
			"\r\n"+
			"<p>HTML version</p>\r\n"+
			"--INNER--\r\n"+
			"--OUTER\r\n"+
			"Content-Type: image/png\r\n"+
			"Content-Disposition: attachment; filename=\"image.png\"\r\n"+
			"\r\n"+
			"PNG-DATA\r\n"+
			"--OUTER--\r\n")
)
