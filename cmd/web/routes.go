package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/AdamBeresnev/op-bracket/internal/httputil"
	"github.com/AdamBeresnev/op-bracket/internal/middleware"
	"github.com/AdamBeresnev/op-bracket/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type seedOrderRequest struct {
	SeedOrder []string `json:"seedOrder"`
}

type registrationRequest struct {
	// Only admins may register someone else
	PlayerID string `json:"playerId"`
}

type resultRequest struct {
	ScoreA *int `json:"scoreA"`
	ScoreB *int `json:"scoreB"`
}

type overrideRequest struct {
	Winner string `json:"winner"`
	ScoreA *int   `json:"scoreA"`
	ScoreB *int   `json:"scoreB"`
}

func newRouter(app *application) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.PingContext(r.Context()); err != nil {
			httputil.InternalServerError(w, "Database ping failed", err)
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Websocket clients cannot send headers from the browser, the stream is public
	r.Get("/tournaments/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		id, ok := tournamentID(w, r)
		if !ok {
			return
		}
		if _, err := app.tournaments.GetTournament(r.Context(), id); err != nil {
			httputil.Error(w, err)
			return
		}
		app.hub.ServeWS(w, r, id.String())
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(app.secret))

		r.Get("/tournaments/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := tournamentID(w, r)
			if !ok {
				return
			}
			data, err := app.tournaments.GetTournamentData(r.Context(), id)
			if err != nil {
				httputil.Error(w, err)
				return
			}
			httputil.JSON(w, http.StatusOK, data)
		})

		r.Get("/tournaments/{id}/timeline", func(w http.ResponseWriter, r *http.Request) {
			id, ok := tournamentID(w, r)
			if !ok {
				return
			}
			entries, err := app.timeline.List(r.Context(), id)
			if err != nil {
				httputil.Error(w, err)
				return
			}
			httputil.JSON(w, http.StatusOK, entries)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireActor)

			r.Post("/tournaments/{id}/registrations", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())

				// The body is optional
				var req registrationRequest
				if err := httputil.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
					httputil.BadRequest(w, "Invalid request body", err)
					return
				}
				playerID := actor.ID
				if req.PlayerID != "" && req.PlayerID != actor.ID {
					if !actor.Admin {
						httputil.Forbidden(w, "players can only register themselves")
						return
					}
					playerID = req.PlayerID
				}

				registration, err := app.tournaments.Register(r.Context(), id, playerID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusCreated, registration)
			})

			r.Post("/tournaments/{id}/matches/{matchId}/start", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				matchID := chi.URLParam(r, "matchId")
				actor, ok := app.requireParticipant(w, r, id, matchID)
				if !ok {
					return
				}

				match, err := app.matches.StartMatch(r.Context(), id, matchID, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, match)
			})

			r.Post("/tournaments/{id}/matches/{matchId}/result", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				var req resultRequest
				if err := httputil.Decode(r, &req); err != nil {
					httputil.BadRequest(w, "Invalid request body", err)
					return
				}
				if req.ScoreA == nil || req.ScoreB == nil {
					httputil.BadRequest(w, "scoreA and scoreB are required", nil)
					return
				}

				matchID := chi.URLParam(r, "matchId")
				actor, ok := app.requireParticipant(w, r, id, matchID)
				if !ok {
					return
				}

				match, err := app.matches.SubmitResult(r.Context(), id, matchID, *req.ScoreA, *req.ScoreB, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, match)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/tournaments", func(w http.ResponseWriter, r *http.Request) {
				var input service.TournamentInput
				if err := httputil.Decode(r, &input); err != nil {
					httputil.BadRequest(w, "Invalid request body", err)
					return
				}
				tournament, err := app.tournaments.CreateTournament(r.Context(), input)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusCreated, tournament)
			})

			r.Put("/tournaments/{id}/seed-order", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				var req seedOrderRequest
				if err := httputil.Decode(r, &req); err != nil {
					httputil.BadRequest(w, "Invalid request body", err)
					return
				}
				tournament, err := app.tournaments.SetSeedOrder(r.Context(), id, req.SeedOrder)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, tournament)
			})

			r.Post("/tournaments/{id}/seed", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())
				result, err := app.seeder.Seed(r.Context(), id, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, result)
			})

			r.Post("/tournaments/{id}/archive", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())
				tournament, err := app.archiver.ArchiveTournament(r.Context(), id, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, tournament)
			})

			r.Get("/tournaments/{id}/report.xlsx", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())
				report, err := app.reports.Export(r.Context(), id, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				w.Header().Set("Content-Type", xlsxContentType)
				w.Header().Set("Content-Disposition", `attachment; filename="tournament-`+id.String()+`.xlsx"`)
				w.Write(report)
			})

			r.Post("/tournaments/{id}/matches/{matchId}/override", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				var req overrideRequest
				if err := httputil.Decode(r, &req); err != nil {
					httputil.BadRequest(w, "Invalid request body", err)
					return
				}
				if req.Winner == "" {
					httputil.BadRequest(w, "winner is required", nil)
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())
				match, err := app.matches.AdminOverride(r.Context(), id, chi.URLParam(r, "matchId"), req.Winner, req.ScoreA, req.ScoreB, actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, match)
			})

			r.Post("/tournaments/{id}/matches/{matchId}/reset", func(w http.ResponseWriter, r *http.Request) {
				id, ok := tournamentID(w, r)
				if !ok {
					return
				}
				actor, _ := middleware.ActorFromContext(r.Context())
				match, err := app.matches.AdminReset(r.Context(), id, chi.URLParam(r, "matchId"), actor.ID)
				if err != nil {
					httputil.Error(w, err)
					return
				}
				httputil.JSON(w, http.StatusOK, match)
			})
		})
	})

	return r
}

func tournamentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid tournament ID", err)
		return uuid.Nil, false
	}
	return id, true
}

// requireParticipant lets admins through and otherwise requires the actor to play in the match.
func (app *application) requireParticipant(w http.ResponseWriter, r *http.Request, id uuid.UUID, matchID string) (*middleware.Actor, bool) {
	actor, _ := middleware.ActorFromContext(r.Context())
	if actor.Admin {
		return actor, true
	}

	match, err := app.matches.GetMatch(r.Context(), id, matchID)
	if err != nil {
		httputil.Error(w, err)
		return nil, false
	}
	if !match.HasPlayer(actor.ID) {
		httputil.Forbidden(w, "only the players of a match can report it")
		return nil, false
	}
	return actor, true
}
