package wire

import "strings"

// Group is one decoded `[key,value]` or `[device,key,value]` unit. Device is
// empty for pairs and for simple lines.
type Group struct {
	Device string
	Key    string
	Value  string
}

// Scan extracts every well-formed bracketed group from line, in order.
//
// A group is skipped, and scanning resumes at the next '[', when it has no
// closing bracket, does not split into exactly 2 or 3 comma-separated
// tokens, or has an empty key. Text outside brackets is ignored. skipped
// counts the groups that were dropped.
func Scan(line string) (groups []Group, skipped int) {
	i := 0
	for i < len(line) {
		open := strings.IndexByte(line[i:], '[')
		if open < 0 {
			break
		}
		start := i + open + 1
		end := strings.IndexAny(line[start:], "[]")
		if end < 0 {
			// Unterminated group at the end of the line.
			skipped++
			break
		}
		if line[start+end] == '[' {
			skipped++
			i = start + end
			continue
		}
		i = start + end + 1

		g, ok := splitGroup(line[start : start+end])
		if !ok {
			skipped++
			continue
		}
		groups = append(groups, g)
	}
	return groups, skipped
}

// ScanSimple parses the unbracketed `type,value` line format.
func ScanSimple(line string) (Group, bool) {
	line = strings.TrimSpace(line)
	idx := strings.IndexByte(line, ',')
	if idx <= 0 {
		return Group{}, false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" || strings.ContainsAny(key, "[]") {
		return Group{}, false
	}
	return Group{
		Key:   Truncate(key, KeyCap),
		Value: Truncate(strings.TrimSpace(line[idx+1:]), ValueCap),
	}, true
}

func splitGroup(body string) (Group, bool) {
	parts := strings.Split(body, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var g Group
	switch len(parts) {
	case 2:
		g = Group{Key: parts[0], Value: parts[1]}
	case 3:
		g = Group{Device: parts[0], Key: parts[1], Value: parts[2]}
	default:
		return Group{}, false
	}
	if g.Key == "" {
		return Group{}, false
	}

	g.Device = Truncate(g.Device, DeviceCap)
	g.Key = Truncate(g.Key, KeyCap)
	g.Value = Truncate(g.Value, ValueCap)
	return g, true
}
