package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infof("Listening on %s", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/version", ctrl.version)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(sessionPrincipal(cfg.SessionHeader))
		r.Post("/subscriptions", ctrl.subscribe)
		r.Post("/subscriptions:remove", ctrl.unsubscribe)
	})

	r.Group(func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("eventpush", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}
		r.Get("/subscriptions", ctrl.listSubscriptions)
		r.Post("/notifications:dispatch", ctrl.dispatch)
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// fail maps a service error to its status. Store failures are shown verbatim
// to operators and replaced with a generic message for everyone else.
func (ctrl *controller) fail(w http.ResponseWriter, err error, operatorFacing bool) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		if !operatorFacing {
			err = errors.New("something went wrong, please try again later")
		}
	}
	ctrl.reject(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lib.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, lib.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, lib.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "error", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %s", lib.ErrValidation, err)
	}
	return nil
}

type subscribeRequest struct {
	EndpointDescriptor models.EndpointDescriptor `json:"endpoint_descriptor"`
	DeviceID           string                    `json:"device_id"`
	ClientDescriptor   string                    `json:"client_descriptor"`
}

func (ctrl *controller) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		ctrl.fail(w, err, false)
		return
	}

	var owner models.Owner
	if principal := principalFrom(ctx); principal != "" {
		owner = models.UserOwner(principal)
	} else if req.DeviceID != "" {
		owner = models.DeviceOwner(req.DeviceID)
	}

	clientDescriptor := req.ClientDescriptor
	if clientDescriptor == "" {
		clientDescriptor = r.UserAgent()
	}

	sub, err := ctrl.svc.Register(ctx, req.EndpointDescriptor, owner, clientDescriptor)
	if err != nil {
		ctrl.fail(w, err, false)
		return
	}
	ctrl.resolve(w, http.StatusCreated, SubscriptionView{}.From(sub))
}

// unsubscribeRequest has no user selector: a user's subscriptions are only
// removable by that user's session.
type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	DeviceID string `json:"device_id"`
}

func (ctrl *controller) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req unsubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		ctrl.fail(w, err, false)
		return
	}

	selectors := lib.UnregisterSelectors(principalFrom(ctx), req.DeviceID, req.Endpoint)
	if len(selectors) == 0 {
		ctrl.fail(w, lib.ErrUnauthorized, false)
		return
	}

	removed, err := ctrl.svc.Unregister(ctx, selectors...)
	if err != nil {
		ctrl.fail(w, err, false)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"removed": removed})
}

func (ctrl *controller) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := ctrl.svc.ListAll(r.Context())
	if err != nil {
		ctrl.fail(w, err, true)
		return
	}

	ptrs := make([]*models.PushSubscription, len(subs))
	for i := range subs {
		ptrs[i] = &subs[i]
	}
	ctrl.resolve(w, http.StatusOK, FromMany[*models.PushSubscription, SubscriptionView](ptrs))
}

func (ctrl *controller) dispatch(w http.ResponseWriter, r *http.Request) {
	var payload models.NotificationPayload
	if err := decodeBody(r, &payload); err != nil {
		ctrl.fail(w, err, true)
		return
	}

	result, err := ctrl.svc.Dispatch(r.Context(), payload)
	if err != nil {
		ctrl.fail(w, err, true)
		return
	}
	// Partial failure is part of the report, not an error status.
	ctrl.resolve(w, http.StatusOK, result)
}

func (ctrl *controller) version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	ctrl.resolve(w, http.StatusOK, ctrl.svc.Version())
}
