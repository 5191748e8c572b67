package guard

import (
	"ikasa/internal/session"
)

type Route string

const (
	RouteHome      Route = "home"
	RouteAuth      Route = "auth"
	RouteProfile   Route = "onboarding/profile"
	RouteStyle     Route = "onboarding/style"
	RouteCharacter Route = "onboarding/character"
	RouteScenario  Route = "onboarding/scenario"
	RouteChat      Route = "chat"
	RouteNotFound  Route = "not-found"
)

// FirstStep is where guards send users who are ahead of their progress.
const FirstStep = RouteProfile

var stepRoutes = map[Route]int{
	RouteProfile:   session.StepProfile,
	RouteStyle:     session.StepStyle,
	RouteCharacter: session.StepCharacter,
	RouteScenario:  session.StepScenario,
}

// StepOf returns the onboarding step a route renders, if it is a funnel route.
func StepOf(r Route) (int, bool) {
	n, ok := stepRoutes[r]
	return n, ok
}

func RouteForStep(n int) Route {
	for r, step := range stepRoutes {
		if step == n {
			return r
		}
	}
	return FirstStep
}

func Parse(path string) Route {
	switch Route(path) {
	case RouteHome, RouteAuth, RouteProfile, RouteStyle, RouteCharacter, RouteScenario, RouteChat:
		return Route(path)
	case "", "/":
		return RouteHome
	default:
		return RouteNotFound
	}
}

type Kind int

const (
	Render Kind = iota
	Redirect
	Loading
)

func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	case Loading:
		return "loading"
	default:
		return "unknown"
	}
}

type Decision struct {
	Kind   Kind
	Target Route
}

// View is the guard-relevant projection of a session.
type View struct {
	Status   session.Status
	Step     int
	Complete bool
}

func ViewOf(st session.State) View {
	status := st.SessionStatus
	if status == "" {
		status = session.StatusNone
	}
	if status == session.StatusActive && !st.Authenticated() {
		status = session.StatusNone
	}
	return View{Status: status, Step: st.OnboardingStep, Complete: st.OnboardingComplete}
}

// Evaluate decides whether the route may render for the given view.
func Evaluate(r Route, v View) Decision {
	switch r {
	case RouteChat:
		if v.Status == session.StatusPending {
			return Decision{Kind: Loading, Target: r}
		}
		if v.Status == session.StatusActive && v.Complete {
			return Decision{Kind: Render, Target: r}
		}
		return Decision{Kind: Redirect, Target: FirstStep}
	}

	n, ok := StepOf(r)
	if !ok {
		return Decision{Kind: Render, Target: r}
	}
	switch {
	case v.Status == session.StatusPending:
		return Decision{Kind: Loading, Target: r}
	case v.Status != session.StatusActive:
		return Decision{Kind: Redirect, Target: RouteAuth}
	case v.Complete:
		return Decision{Kind: Redirect, Target: RouteChat}
	case v.Step < n-1:
		return Decision{Kind: Redirect, Target: FirstStep}
	default:
		return Decision{Kind: Render, Target: r}
	}
}

const maxHops = 8

// Resolve follows redirects until a route renders or the session check is pending.
// hops lists every redirect taken, in order.
func Resolve(r Route, v View) (final Decision, hops []Route) {
	current := r
	for i := 0; i < maxHops; i++ {
		d := Evaluate(current, v)
		if d.Kind != Redirect {
			return d, hops
		}
		hops = append(hops, d.Target)
		current = d.Target
	}
	return Decision{Kind: Render, Target: RouteHome}, hops
}
