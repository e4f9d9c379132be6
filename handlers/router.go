package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router holds every handler group mounted by NewRouter.
type Router struct {
	Tokens     *middleware.Authenticator
	Auth       *AuthHandler
	Profile    *ProfileHandler
	Categories *CategoriesHandler
	Books      *BooksHandler
	Upload     *UploadHandler
	Activity   *ActivityHandler
	Users      *UsersHandler
	Health     *HealthHandler

	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

func NewRouter(rt Router) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(rt.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusNotFound, "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/health", rt.Health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.RateLimit(rt.RateLimitReqs, rt.RateLimitWindow))
			r.Post("/register", rt.Auth.Register)
			r.Post("/login", rt.Auth.Login)
			r.With(rt.Tokens.Auth).Post("/logout", rt.Auth.Logout)
		})

		// Public reads; a bearer token widens visibility to the caller's own books.
		r.Group(func(r chi.Router) {
			r.Use(rt.Tokens.OptionalAuth)
			r.Get("/categories", rt.Categories.List)
			r.Get("/recommendations", rt.Books.Recommendations)
			r.Get("/books", rt.Books.List)
			r.Get("/books/popular", rt.Books.Popular)
			r.Get("/books/{id}", rt.Books.Get)
			r.Get("/books/{id}/cover", rt.Books.Cover)
			r.Get("/books/{id}/similar", rt.Books.Similar)
			r.Get("/books/{id}/preview", rt.Books.Preview)
			r.Get("/books/{id}/read", rt.Books.Read)
			r.Get("/books/{id}/download", rt.Books.Download)
			r.Get("/books/{id}/ratings", rt.Activity.Ratings)
			r.Get("/books/{id}/comments", rt.Activity.Comments)
			r.Get("/books/{id}/content", rt.Activity.Content)
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.Tokens.Auth)

			r.Get("/profile", rt.Profile.Get)
			r.Patch("/profile", rt.Profile.Update)
			r.Get("/profile/analytics", rt.Profile.Analytics)
			r.Get("/profile/sends", rt.Profile.Sends)

			r.Post("/books", rt.Upload.Create)
			r.Get("/books/mine", rt.Books.Mine)
			r.Patch("/books/{id}", rt.Books.Update)
			r.Delete("/books/{id}", rt.Books.Delete)
			r.Post("/books/{id}/send", rt.Books.Send)

			r.Post("/books/{id}/favorite", rt.Activity.ToggleFavorite)
			r.Get("/favorites", rt.Activity.Favorites)
			r.Post("/books/{id}/ratings", rt.Activity.Rate)
			r.Post("/books/{id}/comments", rt.Activity.AddComment)
			r.Patch("/comments/{id}", rt.Activity.UpdateComment)
			r.Delete("/comments/{id}", rt.Activity.DeleteComment)
			r.Put("/books/{id}/progress", rt.Activity.SaveProgress)
			r.Get("/books/{id}/progress", rt.Activity.Progress)
			r.Get("/progress", rt.Activity.AllProgress)
			r.Put("/books/{id}/content", rt.Activity.SaveContent)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/categories", rt.Categories.Create)
				r.Delete("/categories/{id}", rt.Categories.Delete)
				r.Get("/admin/users", rt.Users.ListUsers)
				r.Patch("/admin/users/{id}", rt.Users.UpdateUser)
				r.Delete("/admin/users/{id}", rt.Users.DeleteUser)
			})
		})
	})
	return r
}
