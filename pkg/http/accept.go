package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks a content type based on the Accept
// header of a request and a list of offered types, in order of
// preference. Higher quality wins; among equal qualities, the type
// offered first wins. An empty string means nothing acceptable was
// offered.
func negotiateContentType(r *http.Request, offered []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offered[0]
	}

	acceptable := specs[:0]
	for _, spec := range specs {
		if indexOf(offered, spec.Value) < len(offered) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		if acceptable[i].Q == acceptable[j].Q {
			return indexOf(offered, acceptable[i].Value) < indexOf(offered, acceptable[j].Value)
		}
		return acceptable[i].Q > acceptable[j].Q
	})
	return acceptable[0].Value
}

// indexOf returns len(ss) when the value is absent, so absent values
// sort last.
func indexOf(ss []string, search string) int {
	for i, s := range ss {
		if s == search {
			return i
		}
	}
	return len(ss)
}
