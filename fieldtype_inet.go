package objdb

import "net/netip"

// Internet addresses are stored as fixed-length big-endian blocks, so byte
// order is numeric order. Zoned IPv6 addresses are rejected.

var Inet4Type FieldType = &scalarType[netip.Addr]{
	name:    "inet4",
	sig:     typeSignature("inet4", "be32"),
	ordered: true,
	check: func(v netip.Addr) (netip.Addr, error) {
		if !v.Is4() {
			return netip.Addr{}, invalidValuef("inet4", v, nil, "not an IPv4 address")
		}
		return v, nil
	},
	enc: func(buf []byte, v netip.Addr) []byte {
		b := v.As4()
		return append(buf, b[:]...)
	},
	dec: fixedDecoder("inet4", 4, func(b []byte) (netip.Addr, error) {
		return netip.AddrFrom4([4]byte(b)), nil
	}),
	format: netip.Addr.String,
	parse:  netip.ParseAddr,
	cmp:    netip.Addr.Compare,
}

var Inet6Type FieldType = &scalarType[netip.Addr]{
	name:    "inet6",
	sig:     typeSignature("inet6", "be128"),
	ordered: true,
	check: func(v netip.Addr) (netip.Addr, error) {
		if !v.Is6() || v.Zone() != "" {
			return netip.Addr{}, invalidValuef("inet6", v, nil, "not an unzoned IPv6 address")
		}
		return v, nil
	},
	enc: func(buf []byte, v netip.Addr) []byte {
		b := v.As16()
		return append(buf, b[:]...)
	},
	dec: fixedDecoder("inet6", 16, func(b []byte) (netip.Addr, error) {
		return netip.AddrFrom16([16]byte(b)), nil
	}),
	format: netip.Addr.String,
	parse:  netip.ParseAddr,
	cmp:    netip.Addr.Compare,
}

const (
	inetFamily4 = 4
	inetFamily6 = 6
)

// InetType holds either address family, IPv4 first.
var InetType FieldType = &scalarType[netip.Addr]{
	name:    "inet",
	sig:     typeSignature("inet", "family8+be32|be128"),
	ordered: true,
	check: func(v netip.Addr) (netip.Addr, error) {
		if !v.IsValid() || v.Zone() != "" {
			return netip.Addr{}, invalidValuef("inet", v, nil, "not an unzoned IP address")
		}
		return v, nil
	},
	enc: func(buf []byte, v netip.Addr) []byte {
		if v.Is4() {
			b := v.As4()
			return append(append(buf, inetFamily4), b[:]...)
		}
		b := v.As16()
		return append(append(buf, inetFamily6), b[:]...)
	},
	dec: func(buf []byte) (netip.Addr, []byte, error) {
		if len(buf) == 0 {
			return netip.Addr{}, buf, dataErrf(buf, 0, nil, "inet: missing family")
		}
		switch buf[0] {
		case inetFamily4:
			if len(buf) < 5 {
				return netip.Addr{}, buf, dataErrf(buf, 0, nil, "inet: short IPv4 address")
			}
			return netip.AddrFrom4([4]byte(buf[1:5])), buf[5:], nil
		case inetFamily6:
			if len(buf) < 17 {
				return netip.Addr{}, buf, dataErrf(buf, 0, nil, "inet: short IPv6 address")
			}
			return netip.AddrFrom16([16]byte(buf[1:17])), buf[17:], nil
		default:
			return netip.Addr{}, buf, dataErrf(buf, 0, nil, "inet: invalid family %d", buf[0])
		}
	},
	format: netip.Addr.String,
	parse:  netip.ParseAddr,
	cmp:    netip.Addr.Compare,
}
