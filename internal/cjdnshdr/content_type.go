// Package cjdnshdr implements the fixed-size headers that prefix every frame
// handed out by the cjdns UpperDistributor.
package cjdnshdr

import (
	"fmt"
	"strings"
)

// ContentType identifies a registered traffic class.
// Values below 256 are IPv6 next-header numbers.
type ContentType uint32

const (
	ContentTypeIP6Hop     ContentType = 0
	ContentTypeIP6ICMP    ContentType = 1
	ContentTypeIP6IGMP    ContentType = 2
	ContentTypeIP6IPv4    ContentType = 4
	ContentTypeIP6TCP     ContentType = 6
	ContentTypeIP6EGP     ContentType = 8
	ContentTypeIP6PUP     ContentType = 12
	ContentTypeIP6UDP     ContentType = 17
	ContentTypeIP6IDP     ContentType = 22
	ContentTypeIP6TP      ContentType = 29
	ContentTypeIP6DCCP    ContentType = 33
	ContentTypeIP6IPv6    ContentType = 41
	ContentTypeIP6RSVP    ContentType = 46
	ContentTypeIP6GRE     ContentType = 47
	ContentTypeIP6ESP     ContentType = 50
	ContentTypeIP6AH      ContentType = 51
	ContentTypeIP6ICMPv6  ContentType = 58
	ContentTypeIP6MTP     ContentType = 92
	ContentTypeIP6BEETPH  ContentType = 94
	ContentTypeIP6Encap   ContentType = 98
	ContentTypeIP6PIM     ContentType = 103
	ContentTypeIP6Comp    ContentType = 108
	ContentTypeIP6SCTP    ContentType = 132
	ContentTypeIP6UDPLite ContentType = 136
	ContentTypeIP6Raw     ContentType = 255

	// ContentTypeCJDHT carries bencoded DHT messages.
	ContentTypeCJDHT ContentType = 256
	ContentTypeIPTun ContentType = 257

	ContentTypeReserved    ContentType = 258
	ContentTypeReservedMax ContentType = 0x7fff
	ContentTypeAvailable   ContentType = 0x8000

	// ContentTypeCTRL does not fit in a data header; frames of this class are
	// flagged by RouteHeader.IsCtrl and carry no data header at all.
	ContentTypeCTRL ContentType = 0xffff + 1
	ContentTypeMax  ContentType = 0xffff + 2
)

var contentTypeNames = map[ContentType]string{
	ContentTypeIP6Hop:      "IP6_HOP",
	ContentTypeIP6ICMP:     "IP6_ICMP",
	ContentTypeIP6IGMP:     "IP6_IGMP",
	ContentTypeIP6IPv4:     "IP6_IPV4",
	ContentTypeIP6TCP:      "IP6_TCP",
	ContentTypeIP6EGP:      "IP6_EGP",
	ContentTypeIP6PUP:      "IP6_PUP",
	ContentTypeIP6UDP:      "IP6_UDP",
	ContentTypeIP6IDP:      "IP6_IDP",
	ContentTypeIP6TP:       "IP6_TP",
	ContentTypeIP6DCCP:     "IP6_DCCP",
	ContentTypeIP6IPv6:     "IP6_IPV6",
	ContentTypeIP6RSVP:     "IP6_RSVP",
	ContentTypeIP6GRE:      "IP6_GRE",
	ContentTypeIP6ESP:      "IP6_ESP",
	ContentTypeIP6AH:       "IP6_AH",
	ContentTypeIP6ICMPv6:   "IP6_ICMPV6",
	ContentTypeIP6MTP:      "IP6_MTP",
	ContentTypeIP6BEETPH:   "IP6_BEETPH",
	ContentTypeIP6Encap:    "IP6_ENCAP",
	ContentTypeIP6PIM:      "IP6_PIM",
	ContentTypeIP6Comp:     "IP6_COMP",
	ContentTypeIP6SCTP:     "IP6_SCTP",
	ContentTypeIP6UDPLite:  "IP6_UDPLITE",
	ContentTypeIP6Raw:      "IP6_RAW",
	ContentTypeCJDHT:       "CJDHT",
	ContentTypeIPTun:       "IPTUN",
	ContentTypeReserved:    "RESERVED",
	ContentTypeReservedMax: "RESERVED_MAX",
	ContentTypeAvailable:   "AVAILABLE",
	ContentTypeCTRL:        "CTRL",
	ContentTypeMax:         "MAX",
}

var contentTypeCodes = func() map[string]ContentType {
	m := make(map[string]ContentType, len(contentTypeNames))
	for code, name := range contentTypeNames {
		m[name] = code
	}
	return m
}()

// ContentTypeByName resolves a name such as "CTRL" or "cjdht" to its code.
func ContentTypeByName(name string) (ContentType, error) {
	code, ok := contentTypeCodes[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownContentType, name)
	}
	return code, nil
}

// String returns the table name, or the decimal code for unnamed values.
func (c ContentType) String() string {
	if name, ok := contentTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("%d", uint32(c))
}
