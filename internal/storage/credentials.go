package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

const authorizeKey = "authorize"

// ensureAuthorized returns the current session, authorizing first if no token
// is held. Concurrent callers share one in-flight authorize request.
func (c *Client) ensureAuthorized(ctx context.Context) (b2api.Session, error) {
	if s, ok := c.currentSession(); ok {
		return s, nil
	}

	ch := c.flight.DoChan(authorizeKey, func() (any, error) {
		// A previous flight may have finished between our check and DoChan.
		if s, ok := c.currentSession(); ok {
			return s, nil
		}
		// The attempt is shared, so one caller's cancellation must not fail the rest.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*c.opts.RequestTimeout+c.opts.AuthRetryDelay)
		defer cancel()
		return c.authorize(actx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return b2api.Session{}, res.Err
		}
		return res.Val.(b2api.Session), nil
	case <-ctx.Done():
		return b2api.Session{}, ctx.Err()
	}
}

// authorize calls the remote, retrying exactly once after AuthRetryDelay.
func (c *Client) authorize(ctx context.Context) (b2api.Session, error) {
	auth, err := c.remote.Authorize(ctx, c.opts.Credentials)
	if err == nil && auth.AuthorizationToken == "" {
		err = errors.New("empty authorization token")
	}
	if err != nil {
		metrics.AuthorizeTotal.WithLabelValues("retry").Inc()
		c.log.Warn("authorization failed, retrying", zap.Error(err), zap.Duration("backoff", c.opts.AuthRetryDelay))

		t := time.NewTimer(c.opts.AuthRetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			metrics.AuthorizeTotal.WithLabelValues("failure").Inc()
			return b2api.Session{}, newAuthorizationError(ctx.Err())
		}

		auth, err = c.remote.Authorize(ctx, c.opts.Credentials)
		if err == nil && auth.AuthorizationToken == "" {
			err = errors.New("empty authorization token")
		}
		if err != nil {
			metrics.AuthorizeTotal.WithLabelValues("failure").Inc()
			c.log.Error("authorization failed", zap.Error(err))
			return b2api.Session{}, newAuthorizationError(err)
		}
	}

	accountID := auth.AccountID
	if accountID == "" {
		accountID = c.opts.Credentials.AccountID
	}
	s := b2api.Session{
		AccountID:   accountID,
		Token:       auth.AuthorizationToken,
		APIURL:      auth.APIURL,
		DownloadURL: auth.DownloadURL,
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	metrics.AuthorizeTotal.WithLabelValues("success").Inc()
	c.log.Info("authorized", zap.String("apiUrl", s.APIURL), zap.String("downloadUrl", s.DownloadURL))
	return s, nil
}

func (c *Client) currentSession() (b2api.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.session.Token != ""
}

// checkAuth drops the session token if err says it expired, so the next call
// re-authorizes. A token that was already replaced is left alone.
func (c *Client) checkAuth(s b2api.Session, err error) {
	if !b2api.IsAuthExpired(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Token == s.Token {
		c.session.Token = ""
		c.log.Info("authorization token expired; will re-authorize")
	}
}
