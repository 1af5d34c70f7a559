package echoapi

import (
	"sort"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/learner"
)

const (
	tokenContextKey   = "learnerToken"
	learnerContextKey = "learner"
	tokenAudience     = "Jitu"
)

var nowFunc = time.Now // mockable

// Claims represents the authorization claims transmitted via a JWT.
// Subject is the learner ID; Id is the session key that enforces a single active session.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Cohort       string   `json:"cohort,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"` // -> ADMIN PORTAL
	Roles        []string `json:"roles,omitempty"`
}

func (c Claims) Learner() learner.Learner {
	return learner.Learner{
		ID:       c.Subject,
		Name:     c.Name,
		Email:    c.Email,
		CohortID: c.Cohort,
		Roles:    c.Roles,
	}
}

// GetLearnerClaims returns the Claims of `lrn`. A new session key is generated unless `sessionKey` is set.
func GetLearnerClaims(lrn learner.Learner, conf *core.Config, sessionKey string, origIat ...int64) *Claims {
	now := nowFunc()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}
	if sessionKey == "" {
		sessionKey = uuid.New().String()
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        sessionKey,
			Issuer:    conf.AppName,
			Subject:   lrn.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Name:         lrn.Name,
		Email:        lrn.Email,
		Cohort:       lrn.CohortID,
		IsAdmin:      lrn.IsAdmin(),
		Roles:        lrn.Roles,
	}
}

func newJWTConfig(conf *core.Config, lookup ...string) middleware.JWTConfig {
	jc := middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
	if len(lookup) > 0 {
		jc.TokenLookup = lookup[0]
	}
	return jc
}

// GenerateToken generates a signed JWT token string representing the learner Claims.
func GenerateToken(claims *Claims, conf *core.Config) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextLearner(ctx echo.Context) (learner.Learner, error) {
	if lrn, ok := ctx.Get(learnerContextKey).(learner.Learner); ok {
		return lrn, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return learner.Learner{}, err
	}
	lrn := claims.Learner()
	ctx.Set(learnerContextKey, lrn)
	return lrn, nil
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		sort.Strings(claims.Roles)
		for _, role := range roles {
			if i := sort.SearchStrings(claims.Roles, role); i < len(claims.Roles) {
				if match := claims.Roles[i]; role == match {
					return true
				}
			}
		}
	}
	return false
}

// refreshToken re-issues the context token, keeping its session key, until the refresh delta is over.
func refreshToken(ctx echo.Context, conf *core.Config) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(conf.Server.JWTRefreshExpirationDelta)
	if nowFunc().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := GetLearnerClaims(claims.Learner(), conf, claims.Id, claims.OrigIssuedAt)
	token, err := GenerateToken(newClaims, conf)
	return token, errors.Wrap(err, "generating token")
}
