// Package httputil holds small HTTP helpers shared by serving code.
package httputil

import (
	"net/http"
	"strconv"
	"strings"
)

// NegotiateContentEncoding returns the best offered content encoding
// for the request's Accept-Encoding header. "identity" is used when
// no offer is acceptable.
func NegotiateContentEncoding(r *http.Request, offers []string) string {
	bestOffer := "identity"
	bestQ := -1.0

	specs := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))
	for _, offer := range offers {
		for _, spec := range specs {
			if spec.q > bestQ && (spec.value == "*" || spec.value == offer) {
				bestQ = spec.q
				bestOffer = offer
			}
		}
	}

	if bestQ == 0 {
		bestOffer = ""
	}
	return bestOffer
}

type acceptSpec struct {
	value string
	q     float64
}

func parseAcceptEncoding(header string) []acceptSpec {
	var specs []acceptSpec

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		spec := acceptSpec{q: 1.0}
		if i := strings.Index(part, ";"); i >= 0 {
			spec.value = strings.TrimSpace(part[:i])
			params := strings.TrimSpace(part[i+1:])
			if strings.HasPrefix(params, "q=") {
				q, err := strconv.ParseFloat(params[2:], 64)
				if err != nil {
					continue
				}
				spec.q = q
			}
		} else {
			spec.value = part
		}

		specs = append(specs, spec)
	}

	return specs
}
