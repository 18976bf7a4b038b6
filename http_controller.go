package trust

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

type TrustControllerRoutes struct {
	Login         string
	Logout        string
	TwoFactor     string
	Me            string
	Register      string
	ValidateToken string
	PasswordReset string
	ResetConfirm  string
	Invitations   string
}

// TrustController exposes the trust core over JSON routes.
type TrustController struct {
	Routes *TrustControllerRoutes

	Auth          *CredentialAuthenticator
	Invitations   *InvitationIssuer
	Guard         *OwnershipGuard
	Gate          *SessionGate
	PendingGate   *SessionGate
	Register      *RegisterUserHandler
	ResetInit     *InitializePasswordResetHandler
	ResetFinalize *FinalizePasswordResetHandler
	Cookie        CookieConfig
	ExpireDays    int
	ErrorHandler  fiber.ErrorHandler
	Logger        Logger
	Activity      ActivitySink
	Metrics       *Metrics
}

type TrustControllerOption func(*TrustController) *TrustController

func WithControllerLogger(logger Logger) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		c.Logger = loggerOrDefault(logger, "trust.controller")
		c.ErrorHandler = NewErrorHandler(c.Logger)
		return c
	}
}

func WithControllerRoutes(routes *TrustControllerRoutes) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func WithPasswordReset(init *InitializePasswordResetHandler, finalize *FinalizePasswordResetHandler) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		c.ResetInit = init
		c.ResetFinalize = finalize
		return c
	}
}

func WithRegistration(h *RegisterUserHandler) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		c.Register = h
		return c
	}
}

// WithControllerObservers sets the activity sink and metrics handed to the
// session gates.
func WithControllerObservers(sink ActivitySink, m *Metrics) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		c.Activity = normalizeActivitySink(sink)
		c.Metrics = m
		return c
	}
}

func WithInvitationExpireDays(days int) TrustControllerOption {
	return func(c *TrustController) *TrustController {
		c.ExpireDays = days
		return c
	}
}

// NewTrustController wires the controller. store backs both gates; the
// pending gate only serves the second factor route.
func NewTrustController(auth *CredentialAuthenticator, issuer *InvitationIssuer, guard *OwnershipGuard, store SessionStore, cookie CookieConfig, opts ...TrustControllerOption) *TrustController {
	c := &TrustController{
		Routes: &TrustControllerRoutes{
			Login:         "/auth/login",
			Logout:        "/auth/logout",
			TwoFactor:     "/auth/two-factor",
			Me:            "/auth/me",
			Register:      "/register",
			ValidateToken: "/register/validate",
			PasswordReset: "/password-reset",
			ResetConfirm:  "/password-reset/confirm",
			Invitations:   "/invitations",
		},
		Auth:         auth,
		Invitations:  issuer,
		Guard:        guard,
		Cookie:       cookie,
		ExpireDays:   DefaultInvitationExpireDays,
		ErrorHandler: ErrorHandler,
		Logger:       NewLogger("trust.controller"),
		Activity:     noopActivitySink{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auth == nil {
		panic("missing CredentialAuthenticator in trust controller")
	}

	if c.Invitations == nil {
		panic("missing InvitationIssuer in trust controller")
	}

	if c.Guard == nil {
		c.Guard = NewOwnershipGuard().WithLogger(c.Logger)
	}

	c.Gate = NewSessionGate(SessionGateConfig{
		Store:        store,
		CookieName:   cookie.name(),
		ErrorHandler: c.ErrorHandler,
		Logger:       c.Logger,
		ActivitySink: c.Activity,
		Metrics:      c.Metrics,
	})
	c.PendingGate = NewSessionGate(SessionGateConfig{
		Store:                 store,
		CookieName:            cookie.name(),
		AllowTwoFactorPending: true,
		ErrorHandler:          c.ErrorHandler,
		Logger:                c.Logger,
		ActivitySink:          c.Activity,
		Metrics:               c.Metrics,
	})

	return c
}

// RegisterRoutes mounts every trust route on r.
func (a *TrustController) RegisterRoutes(r fiber.Router) {
	r.Post(a.Routes.Login, a.LoginPost).Name("sign-in.post")
	r.Post(a.Routes.Logout, a.LogOut).Name("sign-out.post")
	r.Post(a.Routes.TwoFactor, a.PendingGate.Handler(), a.TwoFactorPost).Name("two-factor.post")
	r.Get(a.Routes.Me, a.Gate.Handler(), a.MeGet).Name("me.get")

	r.Get(a.Routes.ValidateToken, a.RegistrationValidate).Name("register-validate.get")
	if a.Register != nil {
		r.Post(a.Routes.Register, a.RegistrationCreate).Name("register.post")
	}

	if a.ResetInit != nil && a.ResetFinalize != nil {
		r.Post(a.Routes.PasswordReset, a.PasswordResetPost).Name("pwd-reset.post")
		r.Post(a.Routes.ResetConfirm, a.PasswordResetConfirm).Name("pwd-reset-do.post")
	}

	admin := r.Group(a.Routes.Invitations, a.Gate.Handler(), a.RequireElevated())
	admin.Post("/", a.InvitationCreate).Name("invitations.post")
	admin.Get("/", a.InvitationList).Name("invitations.get")
	admin.Delete("/:id", a.InvitationDelete).Name("invitations.delete")
	admin.Post("/:id/resend", a.InvitationResend).Name("invitations-resend.post")
}

// PublicPaths lists the routes reachable without a live session. CSRF
// protection should skip them so a stale cookie cannot block sign in.
func (a *TrustController) PublicPaths() []string {
	return []string{
		a.Routes.Login,
		a.Routes.Logout,
		a.Routes.Register,
		a.Routes.PasswordReset,
		a.Routes.ResetConfirm,
	}
}

// RegisterResourceAccess mounts GET <path>/:id/access answering whether the
// caller may act on the resource loader resolves.
func (a *TrustController) RegisterResourceAccess(r fiber.Router, path string, loader OwnerLoader) {
	r.Get(path+"/:id/access", a.Gate.Handler(), func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromFiber(c)
		if !ok {
			return a.ErrorHandler(c, ErrAuthenticationRequired)
		}

		decision, err := a.Guard.Authorize(c.UserContext(), principal, c.Params("id"), loader)
		if err != nil {
			return a.ErrorHandler(c, err)
		}

		return c.JSON(fiber.Map{
			"resource": decision.ResourceID,
			"owner":    decision.ResourceOwnerID,
			"role":     decision.PrincipalRole,
			"allowed":  decision.Allowed,
		})
	})
}

// RequireElevated rejects principals without an elevated role.
func (a *TrustController) RequireElevated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromFiber(c)
		if !ok {
			return a.ErrorHandler(c, ErrAuthenticationRequired)
		}
		if !principal.Role.IsElevated() {
			return a.ErrorHandler(c, ErrPermissionDenied)
		}
		return c.Next()
	}
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *TrustController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	// malformed credentials are reported like wrong ones
	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, ErrInvalidCredentials)
	}

	result, err := a.Auth.SignIn(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	SetSessionCookie(c, a.cookie(), result.SessionID)
	return c.JSON(result)
}

// LogOut deletes whatever session the cookie names and always clears the
// cookie, so a stale cookie can still be discarded.
func (a *TrustController) LogOut(c *fiber.Ctx) error {
	sessionID := c.Cookies(a.cookie().Name)

	if err := a.Auth.SignOut(c.UserContext(), sessionID); err != nil {
		a.Logger.Warn("sign out store failure, clearing cookie anyway", "error", err)
	}

	ClearSessionCookie(c, a.cookie())
	return c.SendStatus(http.StatusNoContent)
}

type TwoFactorRequest struct {
	Code string `json:"code" form:"code"`
}

func (a *TrustController) TwoFactorPost(c *fiber.Ctx) error {
	payload := new(TwoFactorRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	pending, _ := PrincipalFromFiber(c)

	principal, err := a.Auth.VerifyTwoFactor(c.UserContext(), pending.SessionID, payload.Code)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"id":   principal.ID,
		"role": principal.Role,
	})
}

func (a *TrustController) MeGet(c *fiber.Ctx) error {
	principal, _ := PrincipalFromFiber(c)
	return c.JSON(fiber.Map{
		"id":   principal.ID,
		"role": principal.Role,
	})
}

func (a *TrustController) RegistrationValidate(c *fiber.Ctx) error {
	inv, err := a.Invitations.ValidateInvitation(c.UserContext(), c.Query(InvitationQueryParam))
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"email":     inv.Email,
		"expire_at": inv.ExpireAt,
	})
}

func (a *TrustController) RegistrationCreate(c *fiber.Ctx) error {
	msg := RegisterUserMessage{}
	if err := a.bind(c, &msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	var created *UserView
	msg.OnResponse = func(user *UserView) {
		created = user
	}

	if err := a.Register.Execute(c.UserContext(), msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Status(http.StatusCreated).JSON(created)
}

func (a *TrustController) PasswordResetPost(c *fiber.Ctx) error {
	msg := InitializePasswordResetMessage{}
	if err := a.bind(c, &msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := a.ResetInit.Execute(c.UserContext(), msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.SendStatus(http.StatusAccepted)
}

func (a *TrustController) PasswordResetConfirm(c *fiber.Ctx) error {
	msg := FinalizePasswordResetMessage{}
	if err := a.bind(c, &msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := a.ResetFinalize.Execute(c.UserContext(), msg); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.SendStatus(http.StatusNoContent)
}

// InvitationCreatePayload is the admin payload to invite a user.
type InvitationCreatePayload struct {
	Email      string `json:"email" form:"email"`
	ExpireDays int    `json:"expire_days" form:"expire_days"`
}

// Validate will validate the payload
func (r InvitationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.ExpireDays, validation.Min(0), validation.Max(90)),
	)
}

func (a *TrustController) InvitationCreate(c *fiber.Ctx) error {
	payload := new(InvitationCreatePayload)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, errors.FromOzzoValidation(err, "invalid invitation").
			WithCode(errors.CodeBadRequest))
	}

	days := payload.ExpireDays
	if days == 0 {
		days = a.ExpireDays
	}

	principal, _ := PrincipalFromFiber(c)

	inv, err := a.Invitations.CreateInvitation(c.UserContext(), payload.Email, days, principal.ID)
	if err != nil && !IsDeliveryFailure(err) {
		return a.ErrorHandler(c, err)
	}

	// the invitation exists even when delivery failed
	resp := fiber.Map{
		"invitation": inv,
		"delivered":  err == nil,
	}
	if err != nil {
		_, body := errorResponse(err)
		resp["error"] = body.Error
	}

	return c.Status(http.StatusCreated).JSON(resp)
}

func (a *TrustController) InvitationList(c *fiber.Ctx) error {
	list, err := a.Invitations.ListInvitations(c.UserContext())
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"invitations": list})
}

func (a *TrustController) InvitationDelete(c *fiber.Ctx) error {
	principal, _ := PrincipalFromFiber(c)

	if err := a.Invitations.DeleteInvitation(c.UserContext(), c.Params("id"), principal.ID); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (a *TrustController) InvitationResend(c *fiber.Ctx) error {
	inv, err := a.Invitations.ResendInvitation(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{
		"invitation": inv,
		"delivered":  true,
	})
}

func (a *TrustController) cookie() CookieConfig {
	cc := a.Cookie
	if cc.TTL <= 0 {
		cc.TTL = a.Auth.SessionTTL()
	}
	return cc
}

func (a *TrustController) bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("invalid request body", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}
	return nil
}
