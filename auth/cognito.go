package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fittrack/apperr"
	"fittrack/store"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"
)

type cognitoAPI interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
}

// Cognito delegates passwords to a Cognito user pool and mirrors each user
// into the store under their Cognito sub, so activities have a local owner.
type Cognito struct {
	client       cognitoAPI
	clientID     string
	clientSecret string
	issuer       string
	store        store.Store
}

func NewCognito(client cognitoAPI, clientID, clientSecret string, store store.Store) *Cognito {
	return &Cognito{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
	}
}

// NewCognitoFromRegion builds the client from the default AWS credential chain.
// With a user pool id set, id tokens must carry that pool as their issuer.
func NewCognitoFromRegion(ctx context.Context, region, userPoolID, clientID, clientSecret string, store store.Store) (*Cognito, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}
	c := NewCognito(cip.NewFromConfig(cfg), clientID, clientSecret, store)
	c.issuer = poolIssuer(region, userPoolID)
	slog.Info("Cognito provider ready", "region", region, "user_pool", userPoolID)
	return c, nil
}

func poolIssuer(region, userPoolID string) string {
	if userPoolID == "" {
		return ""
	}
	return "https://cognito-idp." + region + ".amazonaws.com/" + userPoolID
}

// secretHash is required by app clients that were created with a secret.
func (c *Cognito) secretHash(username string) *string {
	if c.clientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(username + c.clientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (c *Cognito) SignUp(ctx context.Context, creds Credentials) (*store.User, error) {
	if err := validateSignup(&creds); err != nil {
		return nil, err
	}

	attributes := []types.AttributeType{
		{Name: aws.String("email"), Value: aws.String(creds.Email)},
	}
	if creds.Username != creds.Email {
		attributes = append(attributes, types.AttributeType{Name: aws.String("preferred_username"), Value: aws.String(creds.Username)})
	}
	if creds.Name != "" {
		attributes = append(attributes, types.AttributeType{Name: aws.String("name"), Value: aws.String(creds.Name)})
	}

	out, err := c.client.SignUp(ctx, &cip.SignUpInput{
		ClientId:       aws.String(c.clientID),
		Username:       aws.String(creds.Email),
		Password:       aws.String(creds.Password),
		SecretHash:     c.secretHash(creds.Email),
		UserAttributes: attributes,
	})
	if err != nil {
		return nil, cognitoError(err)
	}

	user := &store.User{
		ID:       aws.ToString(out.UserSub),
		Email:    creds.Email,
		Username: creds.Username,
		Name:     creds.Name,
	}
	if _, err := c.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, apperr.Invalid("email", "Email is already registered")
		}
		return nil, err
	}
	return user, nil
}

func (c *Cognito) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	if email == "" || password == "" {
		return nil, apperr.Invalid("email", "Provide email and password")
	}
	email = normalizeEmail(email)

	params := map[string]string{
		"USERNAME": email,
		"PASSWORD": password,
	}
	if hash := c.secretHash(email); hash != nil {
		params["SECRET_HASH"] = *hash
	}
	out, err := c.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(c.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, cognitoError(err)
	}
	if out.AuthenticationResult == nil {
		slog.Warn("Cognito returned a challenge", "challenge", out.ChallengeName, "email", email)
		return nil, apperr.Unauthenticated("Additional verification is required for this account", nil)
	}

	profile, err := profileFromIDToken(aws.ToString(out.AuthenticationResult.IdToken), c.issuer)
	if err != nil {
		return nil, err
	}
	return c.mirror(profile)
}

// profileFromIDToken reads the claims of an id token that came straight from
// Cognito over TLS in the same exchange, so the signature is not rechecked here.
// A non-empty issuer must match the token's iss claim.
func profileFromIDToken(idToken, issuer string) (*store.User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("error reading cognito id token: %w", err)
	}
	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}
	if issuer != "" && str("iss") != issuer {
		slog.Warn("Cognito id token from unexpected issuer", "iss", str("iss"), "expected", issuer)
		return nil, apperr.Unauthenticated("Invalid credentials", fmt.Errorf("id token issuer %q", str("iss")))
	}
	user := &store.User{
		ID:       str("sub"),
		Email:    normalizeEmail(str("email")),
		Username: str("preferred_username"),
		Name:     str("name"),
	}
	if user.ID == "" {
		return nil, errors.New("cognito id token has no sub")
	}
	if user.Username == "" {
		user.Username = str("cognito:username")
	}
	return user, nil
}

func (c *Cognito) mirror(profile *store.User) (*store.User, error) {
	existing, err := c.store.UserByID(profile.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}
	if _, err := c.store.CreateUser(profile); err != nil {
		return nil, fmt.Errorf("error mirroring cognito user: %w", err)
	}
	return profile, nil
}

func cognitoError(err error) error {
	var (
		notAuthorized *types.NotAuthorizedException
		noUser        *types.UserNotFoundException
		notConfirmed  *types.UserNotConfirmedException
		exists        *types.UsernameExistsException
		badPassword   *types.InvalidPasswordException
		badParameter  *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &notAuthorized), errors.As(err, &noUser):
		return apperr.Unauthenticated("Invalid email or password", err)
	case errors.As(err, &notConfirmed):
		return apperr.Unauthenticated("Account is not confirmed yet", err)
	case errors.As(err, &exists):
		return &apperr.Error{Kind: apperr.Validation, Field: "email", Message: "Email is already registered", Err: err}
	case errors.As(err, &badPassword):
		return &apperr.Error{Kind: apperr.Validation, Field: "password", Message: badPassword.ErrorMessage(), Err: err}
	case errors.As(err, &badParameter):
		return &apperr.Error{Kind: apperr.Validation, Message: badParameter.ErrorMessage(), Err: err}
	default:
		return apperr.Unreachable("Identity provider is unavailable", err)
	}
}
