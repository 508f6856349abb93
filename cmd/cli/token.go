package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldflow/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagUserID   int
	flagOrgID    int
	flagSubject  string
	flagRoles    string
	flagPerms    string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd generates an HS256 JWT for testing/admin usage.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		secret := cfg.JWT.Secret
		if secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		if flagOrgID <= 0 {
			return fmt.Errorf("--org-id is required (all API access is organization scoped)")
		}
		now := time.Now()
		payload := map[string]interface{}{
			"iat":    now.Unix(),
			"org_id": flagOrgID,
		}
		if flagUserID > 0 {
			payload["user_id"] = flagUserID
			if flagSubject == "" {
				payload["sub"] = fmt.Sprintf("%d", flagUserID)
			}
		}
		if flagSubject != "" {
			payload["sub"] = flagSubject
		}
		if roles := splitCSV(flagRoles); len(roles) > 0 {
			payload["roles"] = roles
		}
		if perms := splitCSV(flagPerms); len(perms) > 0 {
			payload["perms"] = perms
		}
		if !flagNoExpiry {
			payload["exp"] = now.Add(time.Duration(flagTTLMin) * time.Minute).Unix()
		}
		tok, err := createHS256JWT(payload, secret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var (
	decToken  string
	decVerify bool
	decSecret string
)

// decodeTokenCmd prints JWT header/payload; optionally verifies HS256 signature.
var decodeTokenCmd = &cobra.Command{
	Use:   "token-decode",
	Short: "Decode a JWT and optionally verify HS256 signature",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := decToken
		if token == "" && len(args) > 0 {
			token = args[0]
		}
		if token == "" {
			return errors.New("missing token (pass via --token or arg)")
		}
		header, payload, err := decodeJWT(token)
		if err != nil {
			return err
		}
		pretty := func(v any) string {
			b, _ := json.MarshalIndent(v, "", "  ")
			return string(b)
		}
		fmt.Println("Header:")
		fmt.Println(pretty(header))
		fmt.Println("Payload:")
		fmt.Println(pretty(payload))

		if decVerify {
			secret := decSecret
			if secret == "" {
				cfg := config.Load()
				secret = cfg.JWT.Secret
			}
			if secret == "" {
				return errors.New("no secret provided and jwt.secret empty in config")
			}
			fmt.Printf("Signature valid: %v\n", verifyHS256(token, secret))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().IntVar(&flagUserID, "user-id", 1, "numeric user id to embed in token")
	tokenCmd.Flags().IntVar(&flagOrgID, "org-id", 0, "organization id (required; scopes every API call)")
	tokenCmd.Flags().StringVar(&flagSubject, "sub", "", "subject (sub) claim; defaults to user-id if provided")
	tokenCmd.Flags().StringVar(&flagRoles, "roles", "admin", "comma-separated roles (e.g. admin,dispatcher,technician)")
	tokenCmd.Flags().StringVar(&flagPerms, "perms", "", "comma-separated permissions (optional; overrides/extends RBAC mapping)")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")

	rootCmd.AddCommand(decodeTokenCmd)
	decodeTokenCmd.Flags().StringVar(&decToken, "token", "", "JWT to decode (compact form). If omitted, use first arg")
	decodeTokenCmd.Flags().BoolVar(&decVerify, "verify", false, "verify HS256 signature")
	decodeTokenCmd.Flags().StringVar(&decSecret, "secret", "", "secret for HS256 verify (default: jwt.secret in config)")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// createHS256JWT builds a compact JWT using HS256 with the given payload.
func createHS256JWT(payload map[string]interface{}, secret string) (string, error) {
	header := map[string]string{
		"alg": "HS256",
		"typ": "JWT",
	}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, _ := json.Marshal(payload)
	enc := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

	h := enc(headerJSON)
	p := enc(payloadJSON)
	signing := h + "." + p

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	sig := mac.Sum(nil)
	return signing + "." + enc(sig), nil
}

func decodeJWT(token string) (map[string]interface{}, map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, errors.New("token is not in compact JWT form")
	}
	var header, payload map[string]interface{}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	if err := json.Unmarshal(pb, &payload); err != nil {
		return nil, nil, fmt.Errorf("parse payload: %w", err)
	}
	return header, payload, nil
}

func verifyHS256(token, secret string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(parts[2]))
}
