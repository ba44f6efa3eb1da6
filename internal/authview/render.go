package authview

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templatesFS embed.FS

// ViewModel is everything the templates need from a View.
type ViewModel struct {
	Phase         Phase
	Authenticated bool
	UserEmail     string

	Email        string
	Password     string
	ShowPassword bool
	IsLogin      bool

	Heading           string
	SubmitLabel       string
	ModeToggleLabel   string
	PasswordInputType string
}

// ViewModel snapshots the view for rendering.
func (v *View) ViewModel() ViewModel {
	v.mu.Lock()
	defer v.mu.Unlock()

	vm := ViewModel{
		Phase:             v.phase,
		Authenticated:     v.user != nil,
		Email:             v.form.Email,
		Password:          v.form.Password,
		ShowPassword:      v.ui.ShowPassword,
		IsLogin:           v.ui.IsLogin,
		Heading:           "SignUp",
		SubmitLabel:       "SignUp",
		ModeToggleLabel:   "Login with Email",
		PasswordInputType: "password",
	}
	if v.user != nil {
		vm.UserEmail = v.user.Email
	}
	if v.ui.IsLogin {
		vm.Heading = "Login"
		vm.SubmitLabel = "Login"
		vm.ModeToggleLabel = "Create an account"
	}
	if v.ui.ShowPassword {
		vm.PasswordInputType = "text"
	}
	return vm
}

// Routes are the form targets rendered into the page.
type Routes struct {
	Submit             string
	Mode               string
	PasswordVisibility string
	GitHub             string
	Logout             string
}

var DefaultRoutes = Routes{
	Submit:             "/auth/submit",
	Mode:               "/auth/mode",
	PasswordVisibility: "/auth/password-visibility",
	GitHub:             "/auth/github",
	Logout:             "/auth/logout",
}

// Page is the data passed to the auth template.
type Page struct {
	ViewModel
	Routes    Routes
	CSRFField template.HTML
	Notice    string
}

// Renderer renders views to HTML.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse auth templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(w io.Writer, page Page) error {
	if page.Routes == (Routes{}) {
		page.Routes = DefaultRoutes
	}
	return r.tmpl.ExecuteTemplate(w, "auth.html", page)
}

// RenderView renders v with the default routes.
func (r *Renderer) RenderView(w io.Writer, v *View) error {
	return r.Render(w, Page{ViewModel: v.ViewModel()})
}
