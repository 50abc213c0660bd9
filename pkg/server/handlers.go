package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hq-analytics/hqbridge/pkg/httputil"
	"github.com/hq-analytics/hqbridge/pkg/importer"
	"github.com/hq-analytics/hqbridge/pkg/middleware"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

type domainListResponse struct {
	Domains []session.Domain `json:"domains"`
}

// handleDomainList returns the domains the user may select. The host UI
// renders the list; admins get an empty list because they can select any.
func (s *Server) handleDomainList(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	domains := sess.Domains
	if domains == nil {
		domains = []session.Domain{}
	}
	httputil.WriteSuccess(w, domainListResponse{Domains: domains})
}

type domainSelectResponse struct {
	DomainName string `json:"domain_name"`
}

// handleDomainSelect switches the user onto a domain. The selection cookie
// is only set after the role sync succeeds, so a user can never carry a
// selected domain their roles do not cover.
func (s *Server) handleDomainSelect(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	domain := mux.Vars(r)["name"]
	log := observability.FromContext(r.Context()).WithField("hq_domain", domain)

	if !sess.HasDomain(domain) {
		httputil.WriteValidationError(w, "Please select a domain to access this page.")
		return
	}

	if !sess.IsAdmin {
		ok, err := s.opts.Engine.SyncDomainRole(r.Context(), sess, domain)
		if err != nil || !ok {
			if err != nil {
				log.WithError(err).Error("domain role sync failed")
			}
			if s.opts.Metrics != nil {
				s.opts.Metrics.RoleSyncsTotal.WithLabelValues("failure").Inc()
			}
			httputil.WriteValidationError(w, provision.SyncFailureMessage(domain))
			return
		}
		sess.RoleLastSyncedAt = time.Now().UTC()
		if s.opts.Metrics != nil {
			s.opts.Metrics.RoleSyncsTotal.WithLabelValues("success").Inc()
		}
	}

	sess.ActiveDomain = domain
	if err := s.opts.Sessions.Save(r.Context(), sess); err != nil {
		log.WithError(err).Warn("failed to persist domain selection")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.DomainCookie,
		Value:    domain,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteSuccess(w, domainSelectResponse{DomainName: domain})
}

type datasourceUpdateResponse struct {
	DatasourceID string `json:"datasource_id"`
	Queued       bool   `json:"queued"`
	Message      string `json:"message"`
}

// handleDatasourceUpdate triggers a refresh of one datasource's dataset.
// Large exports are queued and the response says so; a refresh already
// running is reported instead of being started twice.
func (s *Server) handleDatasourceUpdate(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	datasourceID := mux.Vars(r)["id"]
	domain := sess.ActiveDomain
	log := observability.FromContext(r.Context()).WithField("datasource_id", datasourceID)

	if domain == "" {
		httputil.WriteValidationError(w, "Please select a domain to access this page.")
		return
	}

	queued, err := s.opts.Imports.TriggerRefresh(r.Context(), sess, domain, datasourceID)
	if err != nil {
		if errors.Is(err, importer.ErrImportInProgress) {
			httputil.WriteValidationError(w, "This dataset is already being imported. Please try again once the import completes.")
			return
		}
		log.WithError(err).Error("datasource refresh failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "Unable to refresh the dataset right now. Please try again later.")
		return
	}

	message := "Dataset refreshed."
	if queued {
		message = "Dataset import queued. Data will appear shortly."
	}
	httputil.WriteSuccess(w, datasourceUpdateResponse{
		DatasourceID: datasourceID,
		Queued:       queued,
		Message:      message,
	})
}
