package imap

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"
)

// Connect dials and logs in according to cfg.
func Connect(cfg config.IMAPConfig) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if cfg.TLS {
		c, err = imapclient.DialTLS(addr, tlsConfig)
	} else {
		c, err = imapclient.Dial(addr)
		if err == nil && cfg.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		// reported like an expired backend session
		return nil, &backend.APIError{StatusCode: http.StatusUnauthorized, Path: "imap login", Detail: err.Error()}
	}
	return goIMAPClient{c}, nil
}

// goIMAPClient adapts *imapclient.Client to Client; go-imap's UidStore takes
// an untyped value and an optional result channel.
type goIMAPClient struct {
	*imapclient.Client
}

func (c goIMAPClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	return c.Client.UidStore(seqset, item, flags, nil)
}
