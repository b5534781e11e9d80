package credex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// createAnonymousUserMutation is preserved verbatim from
// original_source/add_anonymous_token.py, per spec §6 ("fixed mutation
// text (preserved verbatim in configuration)").
const createAnonymousUserMutation = `
mutation CreateAnonymousUser($input: CreateAnonymousUserInput!, $requestContext: RequestContext!) {
  createAnonymousUser(input: $input, requestContext: $requestContext) {
    __typename
    ... on CreateAnonymousUserOutput {
      expiresAt
      anonymousUserType
      firebaseUid
      idToken
      isInviteValid
      responseContext {
        serverVersion
      }
    }
    ... on UserFacingError {
      error {
        __typename
        message
      }
      responseContext {
        serverVersion
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLEnvelope struct {
	Data struct {
		CreateAnonymousUser struct {
			Typename      string `json:"__typename"`
			IDToken       string `json:"idToken"`
			IsInviteValid bool   `json:"isInviteValid"`
			Error         struct {
				Typename string `json:"__typename"`
				Message  string `json:"message"`
			} `json:"error"`
		} `json:"createAnonymousUser"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type firebaseExchangeRequest struct {
	Token             string `json:"token"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type firebaseExchangeResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// ProvisionAnonymous implements Exchanger.ProvisionAnonymous (spec
// §4.2b), grounded verbatim in original_source/add_anonymous_token.py.
func (e *HTTPExchanger) ProvisionAnonymous(ctx context.Context) (string, *oauth2.Token, error) {
	if err := e.provisionLimiter.Wait(ctx); err != nil {
		return "", nil, fmt.Errorf("credex: provisioning rate limiter: %w", err)
	}

	idToken, err := e.createAnonymousUser(ctx)
	if err != nil {
		return "", nil, err
	}

	refreshToken, accessToken, expiresIn, err := e.exchangeCustomToken(ctx, idToken)
	if err != nil {
		return "", nil, err
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(expiresIn),
	}
	return refreshToken, token, nil
}

func (e *HTTPExchanger) createAnonymousUser(ctx context.Context) (string, error) {
	payload := graphQLRequest{
		Query: createAnonymousUserMutation,
		Variables: map[string]any{
			"input": map[string]any{
				"anonymousUserType": "NATIVE_CLIENT_ANONYMOUS_USER_FEATURE_GATED",
				"expirationType":    "NO_EXPIRATION",
				"referralCode":      nil,
			},
			"requestContext": map[string]any{
				"clientContext": map[string]any{
					"version": e.headers.ClientVersion,
				},
				"osContext": map[string]any{
					"category":           e.headers.OSCategory,
					"name":               e.headers.OSName,
					"version":            e.headers.OSVersion,
					"linuxKernelVersion": nil,
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("credex: encoding anonymous-user mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoints.GraphQLAnonymousUserURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("credex: building anonymous-user request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := e.provisioningClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("credex: anonymous-user request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return "", &RateLimitedError{Message: truncate(body, 200)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("credex: reading anonymous-user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credex: anonymous-user endpoint returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed graphQLEnvelope
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("credex: malformed anonymous-user response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		return "", &VendorError{Message: parsed.Errors[0].Message}
	}

	result := parsed.Data.CreateAnonymousUser
	if result.Typename == "UserFacingError" || result.IDToken == "" {
		msg := result.Error.Message
		if msg == "" {
			msg = "anonymous user creation failed"
		}
		return "", &VendorError{Message: msg}
	}

	return result.IDToken, nil
}

func (e *HTTPExchanger) exchangeCustomToken(ctx context.Context, idToken string) (refreshToken, accessToken string, expiresIn time.Duration, err error) {
	body, marshalErr := json.Marshal(firebaseExchangeRequest{Token: idToken, ReturnSecureToken: true})
	if marshalErr != nil {
		return "", "", 0, fmt.Errorf("credex: encoding custom-token exchange: %w", marshalErr)
	}

	endpoint := e.endpoints.IdentityCustomTokenURL + "?key=" + e.endpoints.IdentityRefreshAPIKey
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if reqErr != nil {
		return "", "", 0, fmt.Errorf("credex: building custom-token exchange request: %w", reqErr)
	}
	req.Header.Set("content-type", "application/json")

	resp, doErr := e.provisioningClient.Do(req)
	if doErr != nil {
		return "", "", 0, fmt.Errorf("credex: custom-token exchange failed: %w", doErr)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", "", 0, fmt.Errorf("credex: reading custom-token exchange response: %w", readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("credex: custom-token exchange returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed firebaseExchangeResponse
	if unmarshalErr := json.Unmarshal(respBody, &parsed); unmarshalErr != nil {
		return "", "", 0, fmt.Errorf("credex: malformed custom-token exchange response: %w", unmarshalErr)
	}
	if parsed.RefreshToken == "" || parsed.IDToken == "" {
		return "", "", 0, fmt.Errorf("credex: custom-token exchange missing refreshToken or idToken")
	}

	dur, parseErr := parseExpiresIn(parsed.ExpiresIn)
	if parseErr != nil {
		return "", "", 0, fmt.Errorf("credex: malformed expiresIn: %w", parseErr)
	}

	return parsed.RefreshToken, parsed.IDToken, dur, nil
}
