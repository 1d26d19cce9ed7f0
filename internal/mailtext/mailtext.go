// Package mailtext normalizes header strings coming from list endpoints.
package mailtext

import (
	"html"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes RFC 2047 encoded words and then HTML entities.
// Values that fail to decode are returned with only entities unescaped.
func DecodeHeader(value string) string {
	if value == "" {
		return ""
	}
	if strings.Contains(value, "=?") {
		if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
			value = decoded
		}
	}
	return html.UnescapeString(value)
}

// SenderName returns the display name of the first address in a From
// header, falling back to the bare address and then to the raw value.
func SenderName(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		list, listErr := mail.ParseAddressList(from)
		if listErr != nil || len(list) == 0 {
			return from
		}
		addr = list[0]
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}

// Addresses returns the lowercased addresses found in a header value.
func Addresses(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	list, err := mail.ParseAddressList(value)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Address != "" {
			out = append(out, strings.ToLower(addr.Address))
		}
	}
	return out
}

// ParseInternalDate parses an epoch-millisecond string.
func ParseInternalDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// ParseDate parses an RFC 5322 Date header.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	hdr := mail.HeaderFromMap(map[string][]string{"Date": {value}})
	t, err := hdr.Date()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}
