package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grocerlane/grocerlane-backend/api/controllers"
	"github.com/grocerlane/grocerlane-backend/api/middleware"
	customersvc "github.com/grocerlane/grocerlane-backend/internal/customers"
	ordersvc "github.com/grocerlane/grocerlane-backend/internal/orders"
	productsvc "github.com/grocerlane/grocerlane-backend/internal/products"
	walletsvc "github.com/grocerlane/grocerlane-backend/internal/wallet"
	"github.com/grocerlane/grocerlane-backend/pkg/config"
	"github.com/grocerlane/grocerlane-backend/pkg/db"
	"github.com/grocerlane/grocerlane-backend/pkg/logger"
	"github.com/grocerlane/grocerlane-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	customerService customersvc.Service,
	productService productsvc.Service,
	orderService ordersvc.Service,
	walletService walletsvc.Service,
	walletProjector walletsvc.Projector,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", controllers.CustomerCreate(customerService, logg))
			r.Get("/", controllers.CustomerList(customerService, logg))
			r.Get("/{customerId}", controllers.CustomerDetail(customerService, logg))
			r.Put("/{customerId}", controllers.CustomerUpdate(customerService, logg))

			r.Route("/{customerId}/wallet", func(r chi.Router) {
				r.Post("/credit", controllers.WalletCredit(walletService, logg))
				r.Post("/debit", controllers.WalletDebit(walletService, logg))
				r.Get("/transactions", controllers.WalletTransactions(walletService, logg))
				r.Get("/balance", controllers.WalletBalance(walletProjector, logg))
				r.Get("/reconcile", controllers.WalletReconcile(walletProjector, logg))
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", controllers.ProductCreate(productService, logg))
			r.Get("/", controllers.ProductList(productService, logg))
			r.Get("/{productId}", controllers.ProductDetail(productService, logg))
			r.Put("/{productId}", controllers.ProductUpdate(productService, logg))
			r.Delete("/{productId}", controllers.ProductDeactivate(productService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(orderService, logg))
			r.Get("/", controllers.OrderList(orderService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(orderService, logg))
			r.Put("/{orderId}", controllers.OrderEdit(orderService, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(orderService, logg))
			r.Post("/{orderId}/status", controllers.OrderUpdateStatus(orderService, logg))
			r.Get("/{orderId}/transactions", controllers.OrderWalletTransactions(walletService, logg))
		})
	})

	return r
}
