// Package dump renders captured frames as one-line summaries.
package dump

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/ctrl"
	"firestige.xyz/cjdnsniff/internal/frame"
)

// Line formats m according to its payload kind:
//
//	CTRL:  > <label> <TYPE> [v<version>] [<key>] [<errType> label_at_err_node: <label> nonce: <n>]
//	CJDHT: > v<version> <label> <ip> <q|reply> [<target ip>]
//	other: > <label> <content type> <n> bytes
//
// The leading arrow is > for incoming frames and < for outgoing ones.
func Line(m *frame.Message) string {
	switch c := m.Content.(type) {
	case frame.Control:
		if c.Msg != nil {
			return ctrlLine(m, c.Msg)
		}
	case frame.Benc:
		return dhtLine(m, c.Value)
	}
	return rawLine(m)
}

func direction(rh cjdnshdr.RouteHeader) string {
	if rh.IsIncoming() {
		return ">"
	}
	return "<"
}

func ctrlLine(m *frame.Message, msg ctrl.Message) string {
	pr := []string{
		direction(m.RouteHeader),
		m.RouteHeader.SwitchHeader.LabelString(),
		msg.Type(),
	}
	switch v := msg.(type) {
	case *ctrl.Ping:
		pr = append(pr, fmt.Sprintf("v%d", v.Version))
	case *ctrl.KeyPing:
		pr = append(pr, fmt.Sprintf("v%d", v.Version), v.KeyString())
	case *ctrl.Error:
		pr = append(pr,
			v.ErrType.String(),
			"label_at_err_node:", v.Cause.LabelString(),
			"nonce:", fmt.Sprint(v.CauseHandle),
		)
	case *ctrl.Malformed:
		pr = append(pr, v.Reason)
	}
	return strings.Join(pr, " ")
}

func dhtLine(m *frame.Message, value interface{}) string {
	rh := m.RouteHeader
	pr := []string{
		direction(rh),
		fmt.Sprintf("v%d", rh.Version),
		rh.SwitchHeader.LabelString(),
		FormatIP(rh.IP),
	}

	dict, _ := value.(map[string]interface{})
	q, _ := dict["q"].(string)
	if q == "" {
		return strings.Join(append(pr, "reply"), " ")
	}
	pr = append(pr, q)
	if q == "fn" {
		if tar, ok := dict["tar"].(string); ok {
			pr = append(pr, formatTarget(tar))
		}
	}
	return strings.Join(pr, " ")
}

func rawLine(m *frame.Message) string {
	return fmt.Sprintf("%s %s %s %d bytes",
		direction(m.RouteHeader),
		m.RouteHeader.SwitchHeader.LabelString(),
		m.ContentType(),
		len(m.ContentBytes))
}

// FormatIP renders an address as eight zero-padded groups, the way cjdns
// prints node addresses. An unset address prints as all zeros.
func FormatIP(ip netip.Addr) string {
	var b [16]byte
	if ip.IsValid() {
		b = ip.As16()
	}
	return formatIP16(b[:])
}

func formatIP16(b []byte) string {
	h := hex.EncodeToString(b)
	groups := make([]string, 0, 8)
	for i := 0; i < len(h); i += 4 {
		groups = append(groups, h[i:i+4])
	}
	return strings.Join(groups, ":")
}

func formatTarget(tar string) string {
	if len(tar) == 16 {
		return formatIP16([]byte(tar))
	}
	return hex.EncodeToString([]byte(tar))
}
