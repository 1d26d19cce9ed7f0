package inbox

import "inboxsync/internal/backend"

// Cache is the current message view plus the classification side map.
// Classifications outlive the messages they describe until the account
// changes, so paging back does not reclassify.
type Cache struct {
	messages        []backend.MessageSummary
	classifications map[string]backend.Classification
}

func NewCache() Cache {
	return Cache{classifications: make(map[string]backend.Classification)}
}

// Replace swaps the message list wholesale.
func (c *Cache) Replace(msgs []backend.MessageSummary) {
	c.messages = c.messages[:0]
	c.Append(msgs)
}

// Append adds messages to the end, updating any already cached id in place.
func (c *Cache) Append(msgs []backend.MessageSummary) {
	pos := make(map[string]int, len(c.messages))
	for i, m := range c.messages {
		pos[m.ID] = i
	}
	for _, m := range msgs {
		if i, ok := pos[m.ID]; ok {
			c.messages[i] = m.Clone()
			continue
		}
		pos[m.ID] = len(c.messages)
		c.messages = append(c.messages, m.Clone())
	}
}

// Clear drops messages and classifications.
func (c *Cache) Clear() {
	c.messages = nil
	c.classifications = make(map[string]backend.Classification)
}

func (c *Cache) Len() int {
	return len(c.messages)
}

// Messages returns a copy of the cached messages in server order.
func (c *Cache) Messages() []backend.MessageSummary {
	out := make([]backend.MessageSummary, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

func (c *Cache) Get(id string) (backend.MessageSummary, bool) {
	for _, m := range c.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return backend.MessageSummary{}, false
}

func (c *Cache) Classification(id string) (backend.Classification, bool) {
	cl, ok := c.classifications[id]
	return cl, ok
}

func (c *Cache) SetClassification(id string, cl backend.Classification) {
	if c.classifications == nil {
		c.classifications = make(map[string]backend.Classification)
	}
	c.classifications[id] = cl
}

// MergeClassifications overwrites entries with the given ones.
func (c *Cache) MergeClassifications(in map[string]backend.Classification) {
	for id, cl := range in {
		c.SetClassification(id, cl.Normalize())
	}
}

// Unclassified returns cached messages without a classification, in order.
func (c *Cache) Unclassified() []backend.MessageSummary {
	var out []backend.MessageSummary
	for _, m := range c.messages {
		if _, ok := c.classifications[m.ID]; !ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// ApplyLabelUpdates edits the label sets of the given messages locally,
// then drops messages that no longer match the filter. A label in both
// add and remove ends up removed.
func (c *Cache) ApplyLabelUpdates(ids, add, remove []string, f Filter) {
	targets := toSet(ids)
	drop := toSet(remove)

	for i := range c.messages {
		m := &c.messages[i]
		if !targets[m.ID] {
			continue
		}
		have := toSet(m.LabelIDs)
		labels := make([]string, 0, len(m.LabelIDs)+len(add))
		for _, l := range m.LabelIDs {
			if !drop[l] {
				labels = append(labels, l)
			}
		}
		for _, l := range add {
			if !have[l] && !drop[l] {
				labels = append(labels, l)
				have[l] = true
			}
		}
		m.LabelIDs = labels
	}

	kept := c.messages[:0]
	for _, m := range c.messages {
		if !f.AllMail() && !m.HasLabel(f.Mailbox) {
			continue
		}
		if f.UnreadOnly && !m.HasLabel(backend.LabelUnread) {
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}
