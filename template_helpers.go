package authguard

var TemplateUserKey = "current_user"

// TemplateHelpers returns helper functions and data for template engines
// with global data support (pongo2/django style).
//
// In templates, you can then use:
//
//	{% if is_authenticated(current_user) %}
//	{% if has_role(current_user, "admin") %}
//	{% if is_at_least(current_user, roles.underwriter) %}
//	{% if can_access(current_user, "/admin") %}
func TemplateHelpers() map[string]any {
	return TemplateHelpersWithRoutes(DefaultRoutes(), nil)
}

// TemplateHelpersWithRoutes is TemplateHelpers where can_access resolves
// paths against views, the required role of each view path.
func TemplateHelpersWithRoutes(routes Routes, views []View) map[string]any {
	roles := map[string]string{}
	for _, role := range AllRoles() {
		roles[role.String()] = role.String()
	}

	table := append([]View(nil), views...)

	return map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"is_at_least":      isAtLeast,
		"can_access": func(user any, location string) bool {
			return canAccess(user, location, routes, table)
		},
		"roles": roles,
	}
}

// TemplateHelpersWithState adds the current state and role to the helpers.
// current_user is always set so helpers never see an undefined value.
func TemplateHelpersWithState(state AuthState, routes Routes, views []View) map[string]any {
	helpers := TemplateHelpersWithRoutes(routes, views)
	helpers[TemplateUserKey] = state.clone()
	if state.Authenticated() {
		helpers["current_role"] = state.Role.String()
		helpers["current_email"] = state.User.Email
	}
	return helpers
}

// templateRole extracts the role of the supported user shapes
func templateRole(user any) (Role, bool) {
	switch u := user.(type) {
	case nil:
		return "", false
	case AuthState:
		if !u.Authenticated() {
			return "", false
		}
		return u.Role, true
	case *AuthState:
		if u == nil || !u.Authenticated() {
			return "", false
		}
		return u.Role, true
	case *User:
		if u == nil {
			return "", false
		}
		return ResolveRole(u), true
	case User:
		return ResolveRole(&u), true
	case map[string]any:
		// JSON-converted users
		if len(u) == 0 {
			return "", false
		}
		if raw, ok := u["role"].(string); ok {
			if role, ok := ParseRole(raw); ok {
				return role, true
			}
		}
		return RoleUser, true
	default:
		return "", false
	}
}

func isAuthenticated(user any) bool {
	_, ok := templateRole(user)
	return ok
}

func hasRole(user any, role string) bool {
	current, ok := templateRole(user)
	if !ok {
		return false
	}
	return current.String() == role
}

func isAtLeast(user any, minRole string) bool {
	current, ok := templateRole(user)
	if !ok {
		return false
	}
	required, valid := ParseRole(minRole)
	if !valid {
		return false
	}
	return HasAccess(current, required)
}

// canAccess tells whether a link to location would be allowed for user
func canAccess(user any, location string, routes Routes, views []View) bool {
	current, ok := templateRole(user)
	if !ok {
		return false
	}

	required := RoleUser
	if view, found := matchView(views, location); found {
		if view.Public {
			return !routes.IsPublicAuthView(location)
		}
		if view.RequiredRole != "" {
			required = view.RequiredRole
		}
	}

	return HasAccess(current, required)
}
