package chatstore

type ReactionCount struct {
	Reaction string `json:"reaction"`
	Count    int    `json:"count"`
}

// Aggregate groups reactions and counts them, keys keep first seen order.
// A user reacting twice with the same emoji is counted twice.
func Aggregate(reactions []Reaction) []ReactionCount {
	if len(reactions) == 0 {
		return nil
	}
	index := make(map[string]int)
	var out []ReactionCount
	for _, r := range reactions {
		if i, ok := index[r.Reaction]; ok {
			out[i].Count++
			continue
		}
		index[r.Reaction] = len(out)
		out = append(out, ReactionCount{Reaction: r.Reaction, Count: 1})
	}
	return out
}
