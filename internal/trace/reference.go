package trace

import (
	"strconv"
	"strings"
)

// Reference builds the canonical public locator for a product. The same URL
// is used for navigation links and as the QR code payload.
type Reference struct {
	base string
}

func NewReference(baseURL string) Reference {
	return Reference{base: strings.TrimRight(baseURL, "/")}
}

// ProductURL is a pure function of the configured base address and the id.
func (r Reference) ProductURL(id int64) string {
	return r.base + "/product/" + strconv.FormatInt(id, 10)
}
