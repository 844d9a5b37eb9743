package sandbox

import (
	"context"
	"net/http"

	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
)

// Git 提供仓库克隆能力。
type Git struct {
	sandbox *Sandbox
}

// CheckoutOptions 克隆选项，Branch 为空时使用仓库默认分支，TargetDir 为空时由容器决定。
type CheckoutOptions struct {
	Branch    string
	TargetDir string
	SessionID string
}

type gitCheckoutRequest struct {
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Checkout 克隆仓库到容器中。
func (g *Git) Checkout(ctx context.Context, repoURL string, options *CheckoutOptions) (*GitCheckoutResult, error) {
	if repoURL == "" {
		return nil, sdkerrors.MissingRequiredFieldError{Name: "repoURL"}
	}
	if options == nil {
		options = &CheckoutOptions{}
	}
	req := &gitCheckoutRequest{
		RepoURL:   repoURL,
		Branch:    options.Branch,
		TargetDir: options.TargetDir,
		SessionID: options.SessionID,
	}
	var ret GitCheckoutResult
	if err := g.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/git/checkout", req, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
