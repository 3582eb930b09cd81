package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrReadOnlyRole 当前存储角色不支持该操作（例如副本上调用复制接口）
var ErrReadOnlyRole = errors.New("当前存储角色不支持该操作")
