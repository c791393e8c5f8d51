package app

import (
	"context"

	"farmassist/pkg/domain"
	"farmassist/pkg/market"
)

// MarketPrices proxies a filtered price query.
func (a *App) MarketPrices(ctx context.Context, f market.Filter) (market.Prices, error) {
	if a.prices == nil {
		return market.Prices{}, ErrPricesUnavailable
	}
	prices, err := a.prices.Prices(ctx, f)
	a.recorder.UpstreamCall("market", err)
	return prices, err
}

// MarketStates lists the states the price API currently reports.
func (a *App) MarketStates(ctx context.Context) ([]string, error) {
	if a.prices == nil {
		return nil, ErrPricesUnavailable
	}
	states, err := a.prices.States(ctx)
	a.recorder.UpstreamCall("market", err)
	return states, err
}

// Weather returns a fixed forecast for location. There is no weather
// provider behind it yet.
func (a *App) Weather(location string) domain.Weather {
	return domain.Weather{
		Location: location,
		Current:  domain.WeatherNow{Temp: 30, Humidity: 72, Condition: "Partly Cloudy"},
		Forecast: []domain.WeatherDay{
			{Day: "Today", Temp: 30, Condition: "Partly Cloudy", Rain: 10},
			{Day: "Tomorrow", Temp: 28, Condition: "Cloudy", Rain: 40},
			{Day: "Day 3", Temp: 26, Condition: "Rainy", Rain: 80},
			{Day: "Day 4", Temp: 29, Condition: "Clear", Rain: 5},
			{Day: "Day 5", Temp: 31, Condition: "Sunny", Rain: 0},
		},
		Alerts: []domain.WeatherAlert{
			{Type: "frost", Severity: domain.SeverityCritical, Message: "Frost warning for tonight. Temperature may drop to 3°C."},
		},
	}
}
