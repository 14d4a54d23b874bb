package main

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Address struct {
	City       string
	PostalCode string
	Country    string
}

type Customer struct {
	CustomerID  string `odata:"key" gorm:"primaryKey"`
	CompanyName string
	ContactName *string
	Address     Address `gorm:"embedded;embeddedPrefix:address_"`
	Orders      []Order `gorm:"foreignKey:CustomerID"`
}

type Order struct {
	OrderID    int `odata:"key" gorm:"primaryKey;autoIncrement:false"`
	CustomerID string
	OrderDate  time.Time
	Freight    float64
	Customer   *Customer `gorm:"foreignKey:CustomerID;references:CustomerID"`
}

type Product struct {
	ProductID    int             `odata:"key" gorm:"primaryKey;autoIncrement:false"`
	ProductName  string          `odata:"etag"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(10,2)"`
	Discontinued bool            `odata:"etag"`
}

// entitySets lists the sets served by the binary in service document order.
var entitySets = []struct {
	name   string
	entity any
}{
	{"Customers", Customer{}},
	{"Orders", Order{}},
	{"Products", Product{}},
}

func seed(ctx context.Context, db *gorm.DB) error {
	var n int64
	if err := db.WithContext(ctx).Model(&Customer{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	maria := "Maria Anders"
	customers := []Customer{
		{CustomerID: "ALFKI", CompanyName: "Alfreds Futterkiste", ContactName: &maria, Address: Address{City: "Berlin", PostalCode: "12209", Country: "Germany"}},
		{CustomerID: "ANATR", CompanyName: "Ana Trujillo Emparedados y helados", Address: Address{City: "México D.F.", PostalCode: "05021", Country: "Mexico"}},
		{CustomerID: "ANTON", CompanyName: "Antonio Moreno Taquería", Address: Address{City: "México D.F.", PostalCode: "05023", Country: "Mexico"}},
		{CustomerID: "AROUT", CompanyName: "Around the Horn", Address: Address{City: "London", PostalCode: "WA1 1DP", Country: "UK"}},
	}
	orders := []Order{
		{OrderID: 10643, CustomerID: "ALFKI", OrderDate: time.Date(1997, 8, 25, 0, 0, 0, 0, time.UTC), Freight: 29.46},
		{OrderID: 10692, CustomerID: "ALFKI", OrderDate: time.Date(1997, 10, 3, 0, 0, 0, 0, time.UTC), Freight: 61.02},
		{OrderID: 10308, CustomerID: "ANATR", OrderDate: time.Date(1996, 9, 18, 0, 0, 0, 0, time.UTC), Freight: 1.61},
		{OrderID: 10355, CustomerID: "AROUT", OrderDate: time.Date(1996, 11, 15, 0, 0, 0, 0, time.UTC), Freight: 41.95},
	}
	products := []Product{
		{ProductID: 1, ProductName: "Chai", UnitPrice: decimal.RequireFromString("18.00")},
		{ProductID: 2, ProductName: "Chang", UnitPrice: decimal.RequireFromString("19.00")},
		{ProductID: 5, ProductName: "Chef Anton's Gumbo Mix", UnitPrice: decimal.RequireFromString("21.35"), Discontinued: true},
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&customers).Error; err != nil {
			return err
		}
		if err := tx.Create(&orders).Error; err != nil {
			return err
		}
		return tx.Create(&products).Error
	})
}
