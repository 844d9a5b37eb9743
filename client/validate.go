package client

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid client config")

var defaultValidator = &configValidator{}

type configValidator struct {
	once     sync.Once
	validate *validator.Validate
}

func (v *configValidator) Validate(obj interface{}) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	if value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil
	}

	v.lazyInit()
	if err := v.validate.Struct(value.Interface()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (v *configValidator) lazyInit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName("validate")
	})
}
