package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const identityContextKey = "agent_identity"

// AgentIdentity is the authenticated caller extracted from the bearer token.
type AgentIdentity struct {
	OrgID    int64
	AgentID  string
	Admin    bool
	GroupIDs []string
}

type agentClaims struct {
	OrgID    int64    `json:"org_id"`
	Admin    bool     `json:"admin"`
	GroupIDs []string `json:"groups"`
	jwt.RegisteredClaims
}

// requireAgent parses and verifies the bearer token and stashes the caller
// identity on the request context. Token verification is the edge's only
// auth responsibility; authorization lives in the core services.
func (s *Server) requireAgent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &agentClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" || claims.OrgID == 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "token missing identity claims")
		}

		c.Set(identityContextKey, AgentIdentity{
			OrgID:    claims.OrgID,
			AgentID:  claims.Subject,
			Admin:    claims.Admin,
			GroupIDs: claims.GroupIDs,
		})
		return next(c)
	}
}

func identityFrom(c echo.Context) AgentIdentity {
	id, _ := c.Get(identityContextKey).(AgentIdentity)
	return id
}
