package index

// Posting is one document's contribution to a term: the document's source
// URL and its normalized term frequency.
type Posting struct {
	URL string  `json:"url"`
	TF  float64 `json:"tf"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}
