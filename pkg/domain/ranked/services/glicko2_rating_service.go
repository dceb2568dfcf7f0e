package services

import (
	"math"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

const (
	tau             = 0.5
	glicko2Scale    = 173.7178
	convergenceBound = 1e-6
)

// Opponent is one opposing rating plus the score (1 win, 0.5 draw, 0 loss) the subject
// player achieved against it.
type Opponent struct {
	Rating     float64
	RD         float64
	Volatility float64
	Score      float64
}

// UpdatePlayerRating is a pure function over one player's current rating state and its
// opponents in a single rated event. With zero opponents the only effect is RD decay.
// Otherwise it runs the standard Glicko-2 five-step update. This has no repository
// dependency and no idempotency check of its own -- the caller (Ranked Coordinator) is
// responsible for the per-(matchId, playerId) guard before invoking it.
func UpdatePlayerRating(current entities.PlayerRating, opponents []Opponent) entities.PlayerRating {
	mu := toGlicko2Scale(current.Rating)
	phi := current.RD / glicko2Scale
	sigma := current.Volatility

	if len(opponents) == 0 {
		phiDecayed := math.Sqrt(phi*phi + sigma*sigma)
		if phiDecayed*glicko2Scale > entities.DefaultRD {
			phiDecayed = entities.DefaultRD / glicko2Scale
		}
		updated := current
		updated.RD = phiDecayed * glicko2Scale
		return updated
	}

	var vInvSum float64
	var deltaSum float64

	for _, o := range opponents {
		muJ := toGlicko2Scale(o.Rating)
		phiJ := o.RD / glicko2Scale

		g := gFunc(phiJ)
		e := eFunc(mu, muJ, phiJ)

		vInvSum += g * g * e * (1 - e)
		deltaSum += g * (o.Score - e)
	}

	v := 1 / vInvSum
	delta := v * deltaSum

	newSigma := findNewVolatility(delta, phi, v, sigma)

	phiStar := math.Sqrt(phi*phi + newSigma*newSigma)
	phiPrime := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muPrime := mu + phiPrime*phiPrime*deltaSum

	updated := current
	updated.Rating = fromGlicko2Scale(muPrime)
	updated.RD = phiPrime * glicko2Scale
	updated.Volatility = newSigma

	return updated
}

func gFunc(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func eFunc(mu, muJ, phiJ float64) float64 {
	return 1 / (1 + math.Exp(-gFunc(phiJ)*(mu-muJ)))
}

func toGlicko2Scale(rating float64) float64 {
	return (rating - entities.DefaultRating) / glicko2Scale
}

func fromGlicko2Scale(mu float64) float64 {
	return mu*glicko2Scale + entities.DefaultRating
}

// findNewVolatility performs the Illinois-algorithm root-find for sigma' described in
// the Glicko-2 paper: f(x) = 0 for x = ln(sigma'^2), bracketed by (a, b).
func findNewVolatility(delta, phi, v, sigma float64) float64 {
	a := math.Log(sigma * sigma)

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * math.Pow(phi*phi+v+ex, 2)
		return num/den - (x-a)/(tau*tau)
	}

	lowerA := a
	var lowerB float64

	if delta*delta > phi*phi+v {
		lowerB = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		lowerB = a - k*tau
	}

	fa := f(lowerA)
	fb := f(lowerB)

	for math.Abs(lowerB-lowerA) > convergenceBound {
		x := lowerA + (lowerA-lowerB)*fa/(fb-fa)
		fx := f(x)

		if fx*fb < 0 {
			lowerA = lowerB
			fa = fb
		} else {
			fa /= 2
		}

		lowerB = x
		fb = fx
	}

	return math.Exp(lowerA / 2)
}
