package web

import (
	"html/template"

	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

// view はページテンプレートに渡すデータです。
type view struct {
	Title     string
	Page      string
	User      *users.User
	Error     string
	Flashes   []string
	CSRFToken string
	Form      map[string]string
	Users     []users.User
	PageNum   int
	PrevPage  int
	NextPage  int
	Limit     int
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} | PyFastStack</title>
</head>
<body>
<nav>
  <a href="/">Home</a>
  {{if .User}}
  <a href="/dashboard">Dashboard</a>
  <a href="/profile">Profile</a>
  {{if .User.IsSuperuser}}<a href="/admin/users">Users</a>{{end}}
  <a href="/logout">Logout</a>
  {{else}}
  <a href="/login">Login</a>
  <a href="/register">Register</a>
  {{end}}
</nav>
<main>
<h1>{{.Title}}</h1>
{{range .Flashes}}<p class="flash">{{.}}</p>{{end}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}

{{if eq .Page "home"}}
<p>Welcome{{if .User}}, {{.User.Username}}{{end}}.</p>

{{else if eq .Page "login"}}
<form method="post" action="/login">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>Username <input name="username" value="{{index .Form "username"}}" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Login</button>
</form>

{{else if eq .Page "register"}}
<form method="post" action="/register">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>Email <input type="email" name="email" value="{{index .Form "email"}}" required></label>
  <label>Username <input name="username" value="{{index .Form "username"}}" required></label>
  <label>Full name <input name="full_name" value="{{index .Form "full_name"}}"></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Register</button>
</form>

{{else if eq .Page "dashboard"}}
<p>Signed in as {{.User.Username}}{{if .User.IsSuperuser}} (administrator){{end}}.</p>

{{else if eq .Page "profile"}}
<dl>
  <dt>Username</dt><dd>{{.User.Username}}</dd>
  <dt>Email</dt><dd>{{.User.Email}}</dd>
</dl>
<form method="post" action="/profile/update">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>Full name <input name="full_name" value="{{.User.FullName}}"></label>
  <button type="submit">Save</button>
</form>
<form method="post" action="/profile/password">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>Current password <input type="password" name="current_password" required></label>
  <label>New password <input type="password" name="new_password" required></label>
  <label>Confirm new password <input type="password" name="confirm_new_password" required></label>
  <button type="submit">Change password</button>
</form>

{{else if eq .Page "users"}}
<table>
  <tr><th>Username</th><th>Email</th><th>Active</th><th>Superuser</th></tr>
  {{range .Users}}
  <tr><td>{{.Username}}</td><td>{{.Email}}</td><td>{{.IsActive}}</td><td>{{.IsSuperuser}}</td></tr>
  {{end}}
</table>
{{if .PrevPage}}<a href="/admin/users?page={{.PrevPage}}&limit={{.Limit}}">Previous</a>{{end}}
{{if .NextPage}}<a href="/admin/users?page={{.NextPage}}&limit={{.Limit}}">Next</a>{{end}}
{{end}}
</main>
</body>
</html>
`))
