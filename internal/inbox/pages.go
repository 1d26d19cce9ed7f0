package inbox

// PageStore holds the cursor needed for each page. tokens[i] fetches page
// i+1; an empty string means no token is known, and tokens[0] is always
// empty because the first page needs none.
type PageStore struct {
	tokens []string
	page   int
}

func NewPageStore() PageStore {
	return PageStore{tokens: []string{""}, page: 1}
}

// Reset forgets every token and points back at page 1.
func (p *PageStore) Reset() {
	p.tokens = []string{""}
	p.page = 1
}

// TokenFor returns the token needed to fetch page. ok is false when page is
// beyond the known cursor chain.
func (p *PageStore) TokenFor(page int) (token string, ok bool) {
	if page <= 1 {
		return "", true
	}
	if page-1 >= len(p.tokens) || p.tokens[page-1] == "" {
		return "", false
	}
	return p.tokens[page-1], true
}

// Record stores the token used for page and the cursor for the page after
// it, then moves the current page pointer. Later entries are kept.
func (p *PageStore) Record(page int, token, next string) {
	if page < 1 {
		page = 1
	}
	for len(p.tokens) < page+1 {
		p.tokens = append(p.tokens, "")
	}
	if page > 1 {
		p.tokens[page-1] = token
	}
	p.tokens[page] = next
	p.page = page
}

// Page is the current page pointer (1-based).
func (p *PageStore) Page() int {
	if p.page < 1 {
		return 1
	}
	return p.page
}

func (p *PageStore) HasNext() bool {
	return p.page < len(p.tokens) && p.tokens[p.page] != ""
}

func (p *PageStore) HasPrev() bool {
	return p.page > 1
}

// Tokens returns a copy of the cursor chain.
func (p *PageStore) Tokens() []string {
	return append([]string(nil), p.tokens...)
}
