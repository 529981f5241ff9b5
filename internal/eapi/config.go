package eapi

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Raw attribute names exchanged with the adapters.
const (
	attrHardware    = "hardware"
	attrState       = "state"
	attrSpeed       = "speed"
	attrMTU         = "mtu"
	attrDescription = "description"

	attrHostname        = "hostname"
	attrAuthPort        = "auth_port"
	attrAcctPort        = "acct_port"
	attrTimeout         = "timeout"
	attrRetransmitCount = "retransmit_count"
	attrKey             = "key"
	attrKeyFormat       = "key_format"
	attrVRF             = "vrf"

	attrType    = "type"
	attrServers = "servers"
	attrName    = "name"

	attrHost      = "host"
	attrVersion   = "version"
	attrUsername  = "username"
	attrCommunity = "community"
	attrPort      = "port"
	attrSecurity  = "security"
)

const (
	defaultAuthPort = 1812
	defaultAcctPort = 1813
	defaultSNMPPort = 162
)

func lines(text string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out
}

func atoi(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", field, s)
	}
	return n, nil
}

// parseSpeedSettings returns the speed setting of every interface block in
// running-config text, e.g. {"Ethernet1": "forced 10000full"}.
func parseSpeedSettings(text string) map[string]string {
	out := make(map[string]string)
	current := ""
	for _, line := range lines(text) {
		if strings.HasPrefix(line, "interface ") {
			current = strings.TrimSpace(strings.TrimPrefix(line, "interface "))
			continue
		}
		if current == "" || !strings.HasPrefix(line, " ") {
			current = ""
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "speed ") {
			out[current] = strings.TrimSpace(strings.TrimPrefix(trimmed, "speed "))
		}
	}
	return out
}

// parseRadiusHosts parses "radius-server host" lines in device order.
func parseRadiusHosts(text string) ([]device.Entity, error) {
	var out []device.Entity
	for _, line := range lines(text) {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "radius-server" || fields[1] != "host" {
			continue
		}

		attrs := device.Attributes{attrHostname: fields[2]}
		for i := 3; i < len(fields); i++ {
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("radius-server host %s: dangling %q", fields[2], fields[i])
			}
			key, value := fields[i], fields[i+1]
			i++
			switch key {
			case "vrf":
				attrs[attrVRF] = value
			case "auth-port", "acct-port", "timeout", "retransmit":
				n, err := atoi(key, value)
				if err != nil {
					return nil, fmt.Errorf("radius-server host %s: %w", fields[2], err)
				}
				attrs[map[string]string{
					"auth-port":  attrAuthPort,
					"acct-port":  attrAcctPort,
					"timeout":    attrTimeout,
					"retransmit": attrRetransmitCount,
				}[key]] = n
			case "key":
				if (value == "0" || value == "7") && i+1 < len(fields) {
					attrs[attrKeyFormat], _ = strconv.Atoi(value)
					i++
					value = fields[i]
				}
				attrs[attrKey] = value
			default:
				return nil, fmt.Errorf("radius-server host %s: unknown option %q", fields[2], key)
			}
		}

		out = append(out, device.Entity{ID: radiusID(attrs), Attrs: attrs})
	}
	return out, nil
}

func radiusID(attrs device.Attributes) string {
	auth, ok := attrs.Int(attrAuthPort)
	if !ok {
		auth = defaultAuthPort
	}
	acct, ok := attrs.Int(attrAcctPort)
	if !ok {
		acct = defaultAcctPort
	}
	return fmt.Sprintf("%s/%d/%d", attrs.String(attrHostname), auth, acct)
}

func radiusHostLine(attrs device.Attributes, withOptions bool) string {
	var b strings.Builder
	b.WriteString("radius-server host ")
	b.WriteString(attrs.String(attrHostname))
	if vrf := attrs.String(attrVRF); vrf != "" {
		b.WriteString(" vrf " + vrf)
	}
	auth, ok := attrs.Int(attrAuthPort)
	if !ok {
		auth = defaultAuthPort
	}
	acct, ok := attrs.Int(attrAcctPort)
	if !ok {
		acct = defaultAcctPort
	}
	fmt.Fprintf(&b, " auth-port %d acct-port %d", auth, acct)
	if !withOptions {
		return b.String()
	}

	if t, ok := attrs.Int(attrTimeout); ok {
		fmt.Fprintf(&b, " timeout %d", t)
	}
	if r, ok := attrs.Int(attrRetransmitCount); ok {
		fmt.Fprintf(&b, " retransmit %d", r)
	}
	if key := attrs.String(attrKey); key != "" {
		if f, ok := attrs.Int(attrKeyFormat); ok {
			fmt.Fprintf(&b, " key %d %s", f, key)
		} else {
			b.WriteString(" key " + key)
		}
	}
	return b.String()
}

// parseServerGroups parses "aaa group server" blocks in device order.
func parseServerGroups(text string) ([]device.Entity, error) {
	var out []device.Entity
	var current *device.Entity

	flush := func() {
		if current != nil {
			out = append(out, *current)
			current = nil
		}
	}

	for _, line := range lines(text) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !strings.HasPrefix(line, " ") {
			flush()
			if len(fields) == 5 && fields[0] == "aaa" && fields[1] == "group" && fields[2] == "server" {
				current = &device.Entity{ID: fields[4], Attrs: device.Attributes{
					attrType:    fields[3],
					attrServers: []device.Attributes{},
				}}
			}
			continue
		}
		if current == nil || fields[0] != "server" || len(fields) < 2 {
			continue
		}

		member := device.Attributes{attrName: fields[1]}
		for i := 2; i+1 < len(fields); i += 2 {
			switch fields[i] {
			case "auth-port", "acct-port":
				n, err := atoi(fields[i], fields[i+1])
				if err != nil {
					return nil, fmt.Errorf("server group %s: %w", current.ID, err)
				}
				if fields[i] == "auth-port" {
					member[attrAuthPort] = n
				} else {
					member[attrAcctPort] = n
				}
			case "vrf":
				member[attrVRF] = fields[i+1]
			}
		}
		current.Attrs[attrServers] = append(current.Attrs.List(attrServers), member)
	}
	flush()
	return out, nil
}

func groupMemberLine(member device.Attributes) string {
	line := "server " + member.String(attrName)
	if vrf := member.String(attrVRF); vrf != "" {
		line += " vrf " + vrf
	}
	if p, ok := member.Int(attrAuthPort); ok {
		line += fmt.Sprintf(" auth-port %d", p)
	}
	if p, ok := member.Int(attrAcctPort); ok {
		line += fmt.Sprintf(" acct-port %d", p)
	}
	return line
}

// parseSNMPHosts parses "snmp-server host" lines in device order.
//
//	snmp-server host <h> [vrf <v>] [traps|informs] [version <1|2c|3> [noauth|auth|priv]] <user> [udp-port <p>]
func parseSNMPHosts(text string) ([]device.Entity, error) {
	var out []device.Entity
	for _, line := range lines(text) {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "snmp-server" || fields[1] != "host" {
			continue
		}

		host := fields[2]
		attrs := device.Attributes{attrHost: host, attrType: "traps", attrVersion: "1", attrPort: defaultSNMPPort}
		user := ""

		rest := fields[3:]
		for i := 0; i < len(rest); i++ {
			switch tok := rest[i]; tok {
			case "vrf", "udp-port", "version":
				if i+1 >= len(rest) {
					return nil, fmt.Errorf("snmp-server host %s: dangling %q", host, tok)
				}
				i++
				switch tok {
				case "vrf":
					attrs[attrVRF] = rest[i]
				case "version":
					attrs[attrVersion] = rest[i]
				default:
					p, err := atoi(tok, rest[i])
					if err != nil {
						return nil, fmt.Errorf("snmp-server host %s: %w", host, err)
					}
					attrs[attrPort] = p
				}
			case "traps", "informs":
				attrs[attrType] = tok
			case "noauth", "auth", "priv":
				attrs[attrSecurity] = tok
			default:
				if user != "" {
					return nil, fmt.Errorf("snmp-server host %s: unexpected %q", host, tok)
				}
				user = tok
			}
		}
		if user == "" {
			return nil, fmt.Errorf("snmp-server host %s: missing user or community", host)
		}
		if attrs.String(attrVersion) == "3" {
			attrs[attrUsername] = user
		} else {
			attrs[attrCommunity] = user
		}

		port, _ := attrs.Int(attrPort)
		out = append(out, device.Entity{ID: fmt.Sprintf("%s:%s:%d", host, user, port), Attrs: attrs})
	}
	return out, nil
}

func snmpHostLine(attrs device.Attributes) string {
	var b strings.Builder
	b.WriteString("snmp-server host ")
	b.WriteString(attrs.String(attrHost))
	if vrf := attrs.String(attrVRF); vrf != "" {
		b.WriteString(" vrf " + vrf)
	}
	if t := attrs.String(attrType); t != "" {
		b.WriteString(" " + t)
	}
	if v := attrs.String(attrVersion); v != "" {
		b.WriteString(" version " + v)
	}
	if s := attrs.String(attrSecurity); s != "" {
		b.WriteString(" " + s)
	}
	user := attrs.String(attrUsername)
	if user == "" {
		user = attrs.String(attrCommunity)
	}
	b.WriteString(" " + user)
	if p, ok := attrs.Int(attrPort); ok {
		fmt.Fprintf(&b, " udp-port %d", p)
	}
	return b.String()
}
