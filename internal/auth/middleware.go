package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperr"
)

const subjectKey = "studentId"

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.Auth(apperr.CodeMissingHeader, "Authorization header is missing")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", apperr.Auth(apperr.CodeMalformedToken, "Token format is invalid")
	}
	return strings.TrimSpace(token), nil
}

// StudentAuth enforces bearer session tokens and stores the authenticated
// student id on the context.
func StudentAuth(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}
		studentID, err := tokens.Verify(token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(subjectKey, studentID)
		c.Next()
	}
}

// RequireSubject rejects requests whose path parameter param names a student
// other than the token's subject.
func RequireSubject(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Subject(c) == "" || c.Param(param) != Subject(c) {
			abort(c, apperr.Auth(apperr.CodeUnauthorized, "Unauthorized"))
			return
		}
		c.Next()
	}
}

// Subject returns the authenticated student id, or "" outside StudentAuth.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}

func abort(c *gin.Context, err error) {
	e := apperr.As(err)
	c.AbortWithStatusJSON(e.Status(), gin.H{"code": e.Code, "message": e.Message})
}
