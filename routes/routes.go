package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/playhive/session-engine/handlers"
	"github.com/playhive/session-engine/middleware"
)

type Handlers struct {
	Room       *handlers.RoomHandler
	Stats      *handlers.StatsHandler
	Tournament *handlers.TournamentHandler
	WebSocket  *handlers.WebSocketHandler
}

func InitRoutes(h Handlers, jwtSecret []byte) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	authenticate := middleware.Authenticate(jwtSecret)

	router.Route("/rooms", func(r chi.Router) {
		// Browsing is public; anything that touches occupancy needs a user.
		r.Get("/", h.Room.ListRooms)
		r.Get("/{roomID}", h.Room.GetRoom)
		r.Get("/{roomID}/actions", h.Room.GetActions)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/", h.Room.CreateRoom)
			r.Post("/join-by-code", h.Room.JoinByCode)
			r.Post("/{roomID}/join", h.Room.JoinRoom)
			r.Post("/{roomID}/ready", h.Room.SetReady)
			r.Put("/{roomID}/state", h.Room.UpdateGameState)
			r.Post("/{roomID}/finish", h.Room.FinishRoom)
			r.Post("/{roomID}/leave", h.Room.LeaveRoom)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/matchmaking/search", h.Room.FindMatch)
		r.Get("/stats/{gameID}", h.Stats.GetMyStats)
	})

	router.Get("/games/{gameID}/leaderboard", h.Stats.Leaderboard)

	router.Route("/tournaments", func(r chi.Router) {
		r.Get("/{tournamentID}/bracket", h.Tournament.GetBracket)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/{tournamentID}/bracket", h.Tournament.GenerateBracket)
			r.Post("/matches/{matchID}/advance", h.Tournament.AdvanceWinner)
			r.Post("/matches/{matchID}/room", h.Tournament.BindRoom)
		})
	})

	router.Get("/ws/rooms/{roomID}", h.WebSocket.ServeRoomWs)
	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeTournamentWs)

	return router
}
