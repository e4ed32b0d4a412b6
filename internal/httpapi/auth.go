package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const signaturePrefix = "sha256="

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// verifyGitHubSignature checks an X-Hub-Signature-256 header against the
// HMAC-SHA256 of body.
func verifyGitHubSignature(secret, header string, body []byte) *authError {
	header = strings.TrimSpace(header)
	if header == "" {
		return &authError{status: 401, code: "unauthorized", message: "missing X-Hub-Signature-256 header"}
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return &authError{status: 401, code: "unauthorized", message: "unsupported signature algorithm"}
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return &authError{status: 401, code: "unauthorized", message: "malformed signature"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return &authError{status: 401, code: "unauthorized", message: "signature mismatch"}
	}
	return nil
}

// adminToken reads an operator token from a bearer header, the dashboard
// form's "token" field or the "token" query parameter.
func adminToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if r.Method == http.MethodPost {
		if token := r.PostFormValue("token"); token != "" {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

func verifyAdminToken(expected string, r *http.Request) *authError {
	provided := adminToken(r)
	if provided == "" {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing admin token"}
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid admin token"}
	}
	return nil
}

// requireAdmin guards operator routes when an admin token is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			if authErr := verifyAdminToken(s.cfg.AdminToken, r); authErr != nil {
				s.logger.WarnContext(r.Context(), "Rejected admin request",
					"event", "admin.unauthorized",
					"path", r.URL.Path,
					"correlation_id", getCorrelationID(r),
					"error", authErr.message,
				)
				writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
