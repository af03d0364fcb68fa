package handler

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/clinic-intake-api/internal/transport/http/middleware"
	"go.uber.org/zap"
)

const recordsPrefix = "/v1/records"

// RecordsProxy forwards authenticated requests to the clinic records backend. The bearer is
// stripped and replaced by identity headers the backend trusts from this gateway.
type RecordsProxy struct {
	proxy *httputil.ReverseProxy
}

func NewRecordsProxy(rawURL string) (*RecordsProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid records url %q", rawURL)
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + strings.TrimPrefix(pr.In.URL.Path, recordsPrefix)
			pr.Out.URL.RawPath = ""
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("X-Identity-Id")
			pr.Out.Header.Del("X-Identity-Class")
			if claims, ok := middleware.ClaimsFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("X-Identity-Id", claims.IdentityID)
				pr.Out.Header.Set("X-Identity-Class", claims.IdentityClass)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.L().Warn("records backend unreachable", zap.String("path", r.URL.Path), zap.Error(err))
			writeCodedError(w, http.StatusBadGateway, "upstream_unavailable", "records service unavailable")
		},
	}
	return &RecordsProxy{proxy: rp}, nil
}

func (p *RecordsProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}
